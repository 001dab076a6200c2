// Package encoder turns a parameterization and a data binding into the
// multipart payload of a create-job request.
//
// The payload has four kinds of fields, written in this order:
//
//	parameters    JSON object of parameter values
//	local_data    JSON object mapping slot name to host path
//	files         one part per uploaded file
//	name_mapping  JSON object mapping uploaded filename to slot name
//
// The backend associates uploads with slots only through name_mapping, so
// two slots bound to files with the same name collapse to a single mapping
// entry. Slots are visited in sorted order and the last one wins; both file
// parts are still sent. Request.Collisions reports the affected filenames.
package encoder

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/textproto"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/toolbox-runner/toolbox/internal/binding"
	"github.com/toolbox-runner/toolbox/internal/params"
)

// Multipart field names.
const (
	FieldParameters  = "parameters"
	FieldLocalData   = "local_data"
	FieldFiles       = "files"
	FieldNameMapping = "name_mapping"
)

// BindingIDHeader carries the synthetic binding ID on each file part.
const BindingIDHeader = "Content-ID"

// Upload is one file part of the request.
type Upload struct {
	Slot string
	File *binding.File
	ID   uuid.UUID
}

// Request is an encoded create-job payload.
type Request struct {
	Parameters  json.RawMessage
	LocalData   map[string]string
	Uploads     []Upload
	NameMapping map[string]string

	collisions []string
}

// Encode builds the request for p and d. Unset slots and job-result slots
// contribute nothing. Completeness of the binding is not checked; the backend
// decides whether missing data is acceptable.
func Encode(p params.Parameterization, d binding.DataBinding, logger *slog.Logger) (*Request, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if p == nil {
		p = params.Parameterization{}
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoder: parameters: %w", err)
	}

	req := &Request{
		Parameters:  raw,
		LocalData:   map[string]string{},
		NameMapping: map[string]string{},
	}

	slots := make([]string, 0, len(d))
	for slot := range d {
		slots = append(slots, slot)
	}
	slices.Sort(slots)

	for _, slot := range slots {
		b := d[slot]
		switch b.Kind {
		case binding.KindPath:
			req.LocalData[slot] = b.Path
		case binding.KindUpload:
			if b.File == nil {
				continue
			}
			req.Uploads = append(req.Uploads, Upload{Slot: slot, File: b.File, ID: b.ID})
			if prev, ok := req.NameMapping[b.File.Name]; ok {
				logger.Warn("encoder: filename bound to several slots, last slot wins",
					"file", b.File.Name, "dropped_slot", prev, "slot", slot)
				if !slices.Contains(req.collisions, b.File.Name) {
					req.collisions = append(req.collisions, b.File.Name)
				}
			}
			req.NameMapping[b.File.Name] = slot
		}
	}
	return req, nil
}

// Collisions returns the filenames that more than one slot was bound to.
func (r *Request) Collisions() []string {
	return slices.Clone(r.collisions)
}

// WriteMultipart writes every field of the request to w. It does not close w.
func (r *Request) WriteMultipart(w *multipart.Writer) error {
	if err := w.WriteField(FieldParameters, string(r.Parameters)); err != nil {
		return fmt.Errorf("encoder: write %s: %w", FieldParameters, err)
	}
	if err := writeJSONField(w, FieldLocalData, r.LocalData); err != nil {
		return err
	}
	for _, u := range r.Uploads {
		if err := writeFile(w, u); err != nil {
			return err
		}
	}
	return writeJSONField(w, FieldNameMapping, r.NameMapping)
}

func writeJSONField(w *multipart.Writer, name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoder: marshal %s: %w", name, err)
	}
	if err := w.WriteField(name, string(b)); err != nil {
		return fmt.Errorf("encoder: write %s: %w", name, err)
	}
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func writeFile(w *multipart.Writer, u Upload) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		FieldFiles, quoteEscaper.Replace(u.File.Name)))
	h.Set("Content-Type", "application/octet-stream")
	if u.ID != uuid.Nil {
		h.Set(BindingIDHeader, "<"+u.ID.String()+">")
	}
	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("encoder: create part for %s: %w", u.Slot, err)
	}
	src, err := u.File.Open()
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()
	if _, err := io.Copy(part, src); err != nil {
		return fmt.Errorf("encoder: copy %s: %w", u.File.Name, err)
	}
	return nil
}
