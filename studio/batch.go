package studio

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/mediadesk/mediadesk/apperr"
	"github.com/mediadesk/mediadesk/fields"
)

type batchCreated struct {
	JobID string           `json:"job_id"`
	Kind  fields.MediaKind `json:"kind"`
	Row   int              `json:"row"`
}

type batchRejected struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// BatchGenerate queues one job per CSV row. The file arrives as a
// multipart "file" field or as the raw request body. The header row names
// the columns, prompt is required, kind defaults to image. Rows are
// validated individually and bad ones reported back by row number; the
// surviving rows are stored in one transaction so a database fault never
// leaves half a batch behind.
func (s *Service) BatchGenerate(c *fiber.Ctx) error {
	body, err := batchBody(c)
	if err != nil {
		return fields.RespondError(c, err)
	}
	defer body.Close()

	reader := csv.NewReader(body)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return fields.RespondError(c, apperr.Wrap(err, apperr.ErrValidation, "csv header row is required"))
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	promptCol, ok := cols["prompt"]
	if !ok {
		return fields.RespondError(c, apperr.Wrap(errors.New("prompt column"), apperr.ErrValidation, "csv header must include a prompt column"))
	}
	kindCol, hasKind := cols["kind"]
	aspectCol, hasAspect := cols["aspect_ratio"]
	durationCol, hasDuration := cols["duration_seconds"]

	maxRows := s.Config.BatchMaxRows
	if maxRows <= 0 {
		maxRows = 400
	}
	userID := getUserID(c)

	var (
		jobs     []fields.GenerationJob
		created  []batchCreated
		rejected []batchRejected
		row      = 1
	)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			rejected = append(rejected, batchRejected{Row: row, Error: "malformed csv row"})
			continue
		}
		if len(jobs) >= maxRows {
			return fields.RespondError(c, apperr.Wrap(errors.New("row limit"), apperr.ErrValidation,
				fmt.Sprintf("csv exceeds the %d row limit", maxRows)))
		}

		prompt := strings.TrimSpace(cell(record, promptCol))
		if prompt == "" {
			rejected = append(rejected, batchRejected{Row: row, Error: "prompt is empty"})
			continue
		}

		kind := fields.KindImage
		if hasKind {
			switch v := strings.ToLower(strings.TrimSpace(cell(record, kindCol))); v {
			case "", string(fields.KindImage):
			case string(fields.KindVideo):
				kind = fields.KindVideo
			case string(fields.KindAvatar):
				rejected = append(rejected, batchRejected{Row: row, Error: "avatar jobs cannot be batched, submit them individually with a reference image"})
				continue
			default:
				rejected = append(rejected, batchRejected{Row: row, Error: "unknown kind " + strconv.Quote(v)})
				continue
			}
		}

		params := fields.JobParams{}
		if hasAspect {
			params.AspectRatio = strings.TrimSpace(cell(record, aspectCol))
		}
		if hasDuration {
			if v := strings.TrimSpace(cell(record, durationCol)); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil || n < 0 {
					rejected = append(rejected, batchRejected{Row: row, Error: "duration_seconds must be a whole number"})
					continue
				}
				params.DurationSeconds = n
			}
		}
		blob, err := json.Marshal(params)
		if err != nil {
			rejected = append(rejected, batchRejected{Row: row, Error: "job params could not be encoded"})
			continue
		}

		job := fields.NewGenerationJob(userID, kind, prompt, string(blob))
		jobs = append(jobs, *job)
		created = append(created, batchCreated{JobID: job.ID, Kind: kind, Row: row})
	}

	if row == 1 {
		return fields.RespondError(c, apperr.Wrap(errors.New("no rows"), apperr.ErrValidation, "csv has no data rows"))
	}

	if len(jobs) > 0 {
		err := s.Db.Transaction(func(tx *gorm.DB) error {
			for i := range jobs {
				if err := tx.Create(&jobs[i]).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fields.RespondError(c, apperr.Wrap(err, apperr.ErrDatabase, "store batch"))
		}
		for i := range jobs {
			s.Runner.Start(jobs[i].ID)
		}
	}

	s.Logger.WithFields(map[string]interface{}{
		"user_id":  userID,
		"created":  len(created),
		"rejected": len(rejected),
	}).Info("batch queued")
	return fields.Respond(c, http.StatusAccepted, fiber.Map{
		"created": created,
		"errors":  rejected,
	})
}

// batchBody prefers a multipart "file" part and falls back to the raw
// request body for clients that post the CSV directly.
func batchBody(c *fiber.Ctx) (io.ReadCloser, error) {
	if file, err := c.FormFile("file"); err == nil {
		f, err := file.Open()
		if err != nil {
			return nil, apperr.Wrap(err, apperr.ErrBadRequest, "csv upload could not be opened")
		}
		return f, nil
	}
	if len(c.Body()) == 0 {
		return nil, apperr.ErrEmptyBody
	}
	return io.NopCloser(bytes.NewReader(c.Body())), nil
}

func cell(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return record[idx]
}
