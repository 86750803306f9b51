package server

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"file-exchanger/internal/db"
	"file-exchanger/internal/rooms"
	"file-exchanger/internal/storage"
)

// defaultUploadName is used when a client sends no X-Filename header.
const defaultUploadName = "uploaded_file"

// space is one partition the file handlers operate on: the shared folder or
// a room. resolve authorizes the request and returns the target folder.
type space struct {
	kind    string // db.SpaceFlat or db.SpaceRoom
	asJSON  bool   // error bodies as {"error": ...}
	resolve func(r *http.Request) (*storage.Folder, string, error)
}

func (s *Server) flatSpace() space {
	return space{
		kind: db.SpaceFlat,
		resolve: func(r *http.Request) (*storage.Folder, string, error) {
			return s.shared, "", nil
		},
	}
}

func (s *Server) roomSpace() space {
	return space{
		kind:   db.SpaceRoom,
		asJSON: true,
		resolve: func(r *http.Request) (*storage.Folder, string, error) {
			id := mux.Vars(r)["id"]
			room, err := s.rooms.Authorize(r.Context(), id, r.Header.Get("X-Password"), getClientIP(r))
			if err != nil {
				s.recordAuthFailure(r, id, err, "file access")
				return nil, "", err
			}
			return room.Files, room.ID, nil
		},
	}
}

// fileJSON is the wire form of a stored file. modified is Unix seconds.
type fileJSON struct {
	Name     string  `json:"name"`
	Size     int64   `json:"size"`
	Modified float64 `json:"modified"`
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func (s *Server) handleList(sp space) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		folder, _, err := sp.resolve(r)
		if err != nil {
			writeError(w, r, err, sp.asJSON)
			return
		}

		files, err := folder.List(r.Context())
		if err != nil {
			writeError(w, r, err, sp.asJSON)
			return
		}
		sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

		out := make([]fileJSON, 0, len(files))
		for _, f := range files {
			out = append(out, fileJSON{Name: f.Name, Size: f.Size, Modified: unixSeconds(f.Modified)})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// uploadName returns the target name from X-Filename, percent-decoded when
// the header is valid percent-encoding.
func uploadName(header string) string {
	if header == "" {
		return defaultUploadName
	}
	if decoded, err := url.PathUnescape(header); err == nil && decoded != "" {
		return decoded
	}
	return header
}

func (s *Server) handleUpload(sp space) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		folder, roomID, err := sp.resolve(r)
		if err != nil {
			writeError(w, r, err, sp.asJSON)
			return
		}

		if s.maxUpload > 0 {
			if r.ContentLength > s.maxUpload {
				s.metrics.RecordUploadError()
				writeError(w, r, &http.MaxBytesError{Limit: s.maxUpload}, sp.asJSON)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
		}

		name := uploadName(r.Header.Get("X-Filename"))
		n, err := folder.Put(r.Context(), name, r.Body, r.ContentLength)
		if err != nil {
			s.metrics.RecordUploadError()
			s.audit(r, db.Event{Action: db.ActionFileUploaded, Space: sp.kind, RoomID: roomID, Filename: name, Detail: clientMessage(err, statusFor(err))})
			writeError(w, r, err, sp.asJSON)
			return
		}

		s.metrics.RecordUpload(n, time.Since(start))
		s.audit(r, db.Event{Action: db.ActionFileUploaded, Space: sp.kind, RoomID: roomID, Filename: name, Size: n, Success: true})

		if sp.kind == db.SpaceFlat {
			writeJSON(w, http.StatusOK, map[string]string{"status": "success", "filename": name})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "filename": name, "message": "File uploaded"})
	}
}

// contentDisposition builds an attachment header, RFC 2231 encoded when the
// name is not plain ASCII.
func contentDisposition(name string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}

func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func (s *Server) handleDownload(sp space) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		name := mux.Vars(r)["name"]

		folder, roomID, err := sp.resolve(r)
		if err != nil {
			writeError(w, r, err, sp.asJSON)
			return
		}

		rc, info, err := folder.Open(r.Context(), name)
		if err != nil {
			s.metrics.RecordDownloadError()
			writeError(w, r, err, sp.asJSON)
			return
		}
		defer func() { _ = rc.Close() }()

		h := w.Header()
		h.Set("Content-Type", contentTypeFor(info.Name))
		h.Set("Content-Length", strconv.FormatInt(info.Size, 10))
		h.Set("Content-Disposition", contentDisposition(info.Name))
		w.WriteHeader(http.StatusOK)

		n, err := io.Copy(w, rc)
		if err != nil {
			// Headers are gone; the client sees a truncated body.
			s.metrics.RecordDownloadError()
			Warn("download_interrupted", map[string]any{
				"rid":   RequestIDFromContext(r.Context()),
				"file":  info.Name,
				"bytes": n,
				"err":   err.Error(),
			})
			return
		}

		s.metrics.RecordDownload(n, time.Since(start))
		s.audit(r, db.Event{Action: db.ActionFileDownloaded, Space: sp.kind, RoomID: roomID, Filename: info.Name, Size: n, Success: true})
	}
}

func (s *Server) handleDelete(sp space) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]

		folder, roomID, err := sp.resolve(r)
		if err != nil {
			writeError(w, r, err, sp.asJSON)
			return
		}

		if err := folder.Delete(r.Context(), name); err != nil {
			if !errors.Is(err, storage.ErrNotExist) && !errors.Is(err, storage.ErrInvalidName) {
				s.audit(r, db.Event{Action: db.ActionFileDeleted, Space: sp.kind, RoomID: roomID, Filename: name, Detail: "delete failed"})
			}
			writeError(w, r, err, sp.asJSON)
			return
		}

		s.metrics.RecordDelete()
		s.audit(r, db.Event{Action: db.ActionFileDeleted, Space: sp.kind, RoomID: roomID, Filename: name, Success: true})

		if sp.kind == db.SpaceFlat {
			writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "File deleted"})
	}
}

// recordAuthFailure counts and audits a rejected room password.
func (s *Server) recordAuthFailure(r *http.Request, roomID string, err error, detail string) {
	switch {
	case errors.Is(err, rooms.ErrWrongPassword):
		s.metrics.RecordJoin(false)
	case errors.Is(err, rooms.ErrLocked):
		s.metrics.RecordLockout()
	default:
		return
	}
	s.audit(r, db.Event{
		Action: db.ActionJoinFailed,
		Space:  db.SpaceRoom,
		RoomID: rooms.NormalizeID(roomID),
		Detail: detail + ": " + clientMessage(err, statusFor(err)),
	})
}
