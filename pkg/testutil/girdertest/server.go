// Package girdertest serves an in-memory girder tree over HTTP for tests.
package girdertest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// File is one item with its attached files.
// Leaving Files nil attaches a single file built from Name and Content;
// set Files explicitly to exercise the one-file-per-item rule.
type File struct {
	Name    string
	Content []byte
	Meta    map[string]interface{}
	// DeclaredSize overrides the size reported in the listing when non-zero.
	DeclaredSize int64
	Files        []string
}

type Subject struct {
	Name  string
	Files []File
}

type Dandiset struct {
	ID       string
	Name     string
	Meta     map[string]interface{}
	Subjects []Subject
}

// Server is a fake girder API. Register dandisets before issuing requests.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	folders  map[string]folder
	children map[string][]string
	items    map[string][]item
	files    map[string][]file
	blobs    map[string][]byte
	nextID   int

	// Token, when set, is required on every request.
	Token string
	// Requests counts requests by path.
	Requests map[string]int
	// Fail forces a status code for paths with the given prefix.
	Fail map[string]int
}

type folder struct {
	ID   string                 `json:"_id"`
	Name string                 `json:"name"`
	Meta map[string]interface{} `json:"meta"`
}

type item struct {
	ID   string                 `json:"_id"`
	Name string                 `json:"name"`
	Meta map[string]interface{} `json:"meta"`
}

type file struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// NewServer starts a fake girder. Its API root is APIRoot() and it is closed with the test.
func NewServer(t interface{ Cleanup(func()) }) *Server {
	s := &Server{
		folders:  map[string]folder{},
		children: map[string][]string{},
		items:    map[string][]item{},
		files:    map[string][]file{},
		blobs:    map[string][]byte{},
		Requests: map[string]int{},
		Fail:     map[string]int{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/", s.handle)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// APIRoot is the API root, with a trailing slash.
func (s *Server) APIRoot() string {
	return s.Server.URL + "/api/v1/"
}

func (s *Server) id(kind string) string {
	s.nextID++
	return fmt.Sprintf("%s%04d", kind, s.nextID)
}

// Add registers a dandiset folder tree and returns the folder id.
func (s *Server) Add(d Dandiset) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	root := d.ID
	if root == "" {
		root = s.id("f")
	}
	s.folders[root] = folder{ID: root, Name: d.Name, Meta: d.Meta}
	for _, subj := range d.Subjects {
		sid := s.id("f")
		s.folders[sid] = folder{ID: sid, Name: subj.Name}
		s.children[root] = append(s.children[root], sid)
		for _, f := range subj.Files {
			iid := s.id("i")
			meta := f.Meta
			if meta == nil {
				meta = map[string]interface{}{}
			}
			s.items[sid] = append(s.items[sid], item{ID: iid, Name: f.Name, Meta: meta})
			names := f.Files
			if names == nil {
				names = []string{f.Name}
			}
			for _, name := range names {
				fid := s.id("x")
				size := int64(len(f.Content))
				if f.DeclaredSize != 0 {
					size = f.DeclaredSize
				}
				s.files[iid] = append(s.files[iid], file{ID: fid, Name: name, Size: size})
				s.blobs[fid] = f.Content
			}
		}
	}
	return root
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Requests[path]++

	if s.Token != "" && r.Header.Get("Girder-Token") != s.Token {
		http.Error(w, `{"message":"access denied"}`, http.StatusUnauthorized)
		return
	}
	for prefix, code := range s.Fail {
		if strings.HasPrefix(path, prefix) {
			http.Error(w, "<html>upstream unavailable</html>", code)
			return
		}
	}

	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 1 && parts[0] == "folder":
		out := []folder{}
		for _, id := range s.children[r.URL.Query().Get("parentId")] {
			f := s.folders[id]
			f.Meta = map[string]interface{}{}
			out = append(out, f)
		}
		writeJSON(w, out)
	case len(parts) == 2 && parts[0] == "folder":
		f, ok := s.folders[parts[1]]
		if !ok {
			http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
			return
		}
		if f.Meta == nil {
			// girder omits meta entirely on folders that never had any set
			writeJSON(w, map[string]string{"_id": f.ID, "name": f.Name})
			return
		}
		writeJSON(w, f)
	case len(parts) == 1 && parts[0] == "item":
		out := s.items[r.URL.Query().Get("folderId")]
		if out == nil {
			out = []item{}
		}
		writeJSON(w, out)
	case len(parts) == 3 && parts[0] == "item" && parts[2] == "files":
		out := s.files[parts[1]]
		if out == nil {
			out = []file{}
		}
		writeJSON(w, out)
	case len(parts) == 3 && parts[0] == "file" && parts[2] == "download":
		blob, ok := s.blobs[parts[1]]
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(blob)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
