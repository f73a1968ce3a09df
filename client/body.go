package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"slices"
	"strconv"
)

// File is an attachment sent as a multipart form part
type File struct {
	Field       string // form field name, e.g. "file"
	Name        string // file name reported to the server
	ContentType string // defaults to application/octet-stream
	Reader      io.Reader
}

type requestOptions struct {
	query   url.Values
	files   []File
	headers map[string]string
}

// RequestOption configures a single Do call
type RequestOption func(*requestOptions)

// WithQuery adds query parameters to the request URL
func WithQuery(q url.Values) RequestOption {
	return func(o *requestOptions) {
		if o.query == nil {
			o.query = url.Values{}
		}
		for k, vs := range q {
			for _, v := range vs {
				o.query.Add(k, v)
			}
		}
	}
}

// WithFiles attaches files; the request is then sent as multipart/form-data
// and the body's fields become form values.
func WithFiles(files ...File) RequestOption {
	return func(o *requestOptions) {
		o.files = append(o.files, files...)
	}
}

// WithHeader sets an extra request header
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) {
		if o.headers == nil {
			o.headers = map[string]string{}
		}
		o.headers[key] = value
	}
}

// encodeBody returns a replayable body and its content type.
// A nil body without files produces no body at all.
func encodeBody(body any, files []File) (*bytes.Reader, string, error) {
	if len(files) == 0 {
		if body == nil {
			return nil, "", nil
		}
		data, err := json.Marshal(body)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode request: %w", err)
		}
		return bytes.NewReader(data), "application/json", nil
	}

	fields, err := formFields(body)
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if err := w.WriteField(k, fields[k]); err != nil {
			return nil, "", err
		}
	}
	for _, f := range files {
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.Field, f.Name))
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if f.Reader != nil {
			if _, err := io.Copy(part, f.Reader); err != nil {
				return nil, "", fmt.Errorf("failed to read attachment %s: %w", f.Name, err)
			}
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return bytes.NewReader(buf.Bytes()), w.FormDataContentType(), nil
}

// formFields flattens a body into string form values. Nested values are
// sent as JSON text, nulls are skipped.
func formFields(body any) (map[string]string, error) {
	switch v := body.(type) {
	case nil:
		return map[string]string{}, nil
	case map[string]string:
		return v, nil
	case url.Values:
		out := make(map[string]string, len(v))
		for k := range v {
			out[k] = v.Get(k)
		}
		return out, nil
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("multipart body must be an object: %w", err)
	}
	out := make(map[string]string, len(generic))
	for k, val := range generic {
		switch x := val.(type) {
		case nil:
		case string:
			out[k] = x
		case bool:
			out[k] = strconv.FormatBool(x)
		case float64:
			out[k] = strconv.FormatFloat(x, 'f', -1, 64)
		default:
			raw, _ := json.Marshal(x)
			out[k] = string(raw)
		}
	}
	return out, nil
}
