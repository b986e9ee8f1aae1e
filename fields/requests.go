package fields

// Request bodies for the HTTP surface. Validation runs through
// ValidateStruct with the `binding` tag.

type RegisterRequest struct {
	Username string `json:"username"`
	Fullname string `json:"fullname"`
	Email    string `json:"email" binding:"required,email"`
	Mobile   string `json:"mobile"`
	Password string `json:"password" binding:"required,min=8,max=64"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type OTPGenerateRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type OTPVerifyRequest struct {
	Email string `json:"email" binding:"required,email"`
	OTP   string `json:"otp" binding:"required,len=6"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// TokenPair is the login/refresh success payload.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// ReferenceImagePayload carries one inline base64 image on a submit call.
type ReferenceImagePayload struct {
	Data     string `json:"data" binding:"required"`
	MimeType string `json:"mime_type"`
}

type GenerateImageRequest struct {
	Prompt          string                  `json:"prompt" binding:"required,min=3"`
	AspectRatio     string                  `json:"aspect_ratio"`
	ReferenceImages []ReferenceImagePayload `json:"reference_images" binding:"max=8,dive"`
}

type GenerateVideoRequest struct {
	Prompt          string                  `json:"prompt" binding:"required,min=3"`
	AspectRatio     string                  `json:"aspect_ratio"`
	DurationSeconds int                     `json:"duration_seconds" binding:"omitempty,min=1,max=60"`
	ReferenceImages []ReferenceImagePayload `json:"reference_images" binding:"max=4,dive"`
}

type GenerateAvatarRequest struct {
	AvatarName      string                  `json:"avatar_name"`
	Script          string                  `json:"script"`
	ScriptTopic     string                  `json:"script_topic"`
	VoiceID         string                  `json:"voice_id"`
	ReferenceImages []ReferenceImagePayload `json:"reference_images" binding:"required,min=1,max=4,dive"`
}

type GeneratePromptRequest struct {
	Brief string `json:"brief" binding:"required,min=3"`
	Style string `json:"style"`
}

// JobParams is the vendor-knob blob serialized into GenerationJob.Params.
type JobParams struct {
	AspectRatio     string `json:"aspect_ratio,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	AvatarName      string `json:"avatar_name,omitempty"`
	VoiceID         string `json:"voice_id,omitempty"`
	Script          string `json:"script,omitempty"`
}

type SetupWatchRequest struct {
	TopicName string `json:"topic_name"`
}

type OAuthCallbackRequest struct {
	Code  string `json:"code" binding:"required"`
	State string `json:"state"`
}

// PubSubPush is the envelope Google Pub/Sub delivers to push endpoints.
type PubSubPush struct {
	Message struct {
		Data        string `json:"data"`
		MessageID   string `json:"messageId"`
		PublishTime string `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// GmailNotification is the decoded Pub/Sub message payload for a watch.
type GmailNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}
