package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"

	"miku/model"
)

// Form field names of a completion request.
const (
	FieldMessages    = "messages"
	FieldPreferences = "domainPreferences"
	FieldFiles       = "files"
)

// ForceSearchPrompt is inserted before the user message to request search.
const ForceSearchPrompt = "Force web search for the next user query."

// File is an attachment sent with a submission.
type File struct {
	Name string
	Type string
	Data []byte
}

// Attachment returns the metadata that is stored with the message.
func (f File) Attachment() model.Attachment {
	return model.Attachment{Name: f.Name, Type: f.Type, Size: int64(len(f.Data))}
}

// LoadFile reads an attachment from disk.
func LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("failed to read attachment: %w", err)
	}
	return File{Name: filepath.Base(path), Type: detectType(path, data), Data: data}, nil
}

func detectType(name string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return http.DetectContentType(data)
}

// Request is the body of one completion call.
type Request struct {
	Messages    []model.Message
	Preferences model.DomainPreferences
	Files       []File
}

// SearchRequested reports whether the conversation asks for a forced search
// right before its last user message.
func (r Request) SearchRequested() bool {
	last := model.LastIndexOf(r.Messages, model.RoleUser)
	return last > 0 && r.Messages[last-1].Role == model.RoleSystem && r.Messages[last-1].Content == ForceSearchPrompt
}

// Encode writes r as a multipart form and returns the body with its content type.
func (r Request) Encode() (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	msgs := r.Messages
	if msgs == nil {
		msgs = []model.Message{}
	}
	if err := writeJSONField(w, FieldMessages, msgs); err != nil {
		return nil, "", err
	}
	if err := writeJSONField(w, FieldPreferences, r.Preferences.Normalized()); err != nil {
		return nil, "", err
	}
	for _, f := range r.Files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
			"name":     FieldFiles,
			"filename": f.Name,
		}))
		ct := f.Type
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("create file part: %w", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, "", fmt.Errorf("write file part: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return body, w.FormDataContentType(), nil
}

func writeJSONField(w *multipart.Writer, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	if err := w.WriteField(name, string(data)); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// DecodeRequest parses a completion form. Missing preferences decode as
// empty lists; a missing or malformed messages field is a validation error.
func DecodeRequest(req *http.Request, maxMemory int64) (Request, error) {
	if err := req.ParseMultipartForm(maxMemory); err != nil {
		return Request{}, fmt.Errorf("%w: %v", model.ErrValidation, err)
	}

	var out Request
	raw := req.FormValue(FieldMessages)
	if raw == "" {
		return Request{}, fmt.Errorf("%w: missing %s", model.ErrValidation, FieldMessages)
	}
	if err := json.Unmarshal([]byte(raw), &out.Messages); err != nil {
		return Request{}, fmt.Errorf("%w: bad %s: %v", model.ErrValidation, FieldMessages, err)
	}
	if raw := req.FormValue(FieldPreferences); raw != "" {
		if err := json.Unmarshal([]byte(raw), &out.Preferences); err != nil {
			return Request{}, fmt.Errorf("%w: bad %s: %v", model.ErrValidation, FieldPreferences, err)
		}
	}
	out.Preferences = out.Preferences.Normalized()

	if req.MultipartForm != nil {
		for _, fh := range req.MultipartForm.File[FieldFiles] {
			f, err := fh.Open()
			if err != nil {
				return Request{}, fmt.Errorf("open %s: %w", fh.Filename, err)
			}
			data, err := io.ReadAll(f)
			_ = f.Close()
			if err != nil {
				return Request{}, fmt.Errorf("read %s: %w", fh.Filename, err)
			}
			ct := fh.Header.Get("Content-Type")
			if ct == "" {
				ct = detectType(fh.Filename, data)
			}
			out.Files = append(out.Files, File{Name: fh.Filename, Type: ct, Data: data})
		}
	}
	return out, nil
}

// IsValidation reports whether err rejects the request itself.
func IsValidation(err error) bool {
	return errors.Is(err, model.ErrValidation)
}
