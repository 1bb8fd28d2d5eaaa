package cache

import (
	"errors"
	"time"

	"github.com/starford/airules/internal/apperr"
)

// Status summarises the cache for display.
type Status struct {
	Dir      string        `json:"dir"`
	Exists   bool          `json:"exists"`
	Valid    bool          `json:"valid"`
	Corrupt  bool          `json:"corrupt"`
	Files    int           `json:"files"`
	Age      time.Duration `json:"age"`
	TTL      time.Duration `json:"ttl"`
	Metadata *Metadata     `json:"metadata,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Status inspects the cache directory without modifying it.
func (s *Store) Status() Status {
	st := Status{Dir: s.dir, TTL: s.policy.TTL()}

	names, err := s.recipeFiles()
	if err != nil {
		st.Error = err.Error()
		return st
	}
	st.Files = len(names)

	md, err := s.Describe()
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		st.Exists = st.Files > 0
		return st
	case err != nil:
		st.Exists = true
		st.Corrupt = errors.Is(err, apperr.ErrCacheCorrupt)
		st.Error = err.Error()
		return st
	}

	st.Exists = true
	st.Metadata = &md
	st.Age = s.now().Sub(md.LastUpdate)
	if err := s.Verify(); err != nil {
		st.Corrupt = errors.Is(err, apperr.ErrCacheCorrupt)
		st.Error = err.Error()
	}
	st.Valid = s.IsValid()
	return st
}
