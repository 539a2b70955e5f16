package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/orgsync/internal/model"
)

// Snapshot is the on-disk layout of a source export. Either Depts or Orgs
// describes the department forest; when both are present Depts wins.
type Snapshot struct {
	RootID string             `yaml:"root_id,omitempty"`
	Users  []model.SourceUser `yaml:"users"`
	Depts  []model.SourceDept `yaml:"depts,omitempty"`
	Orgs   []model.SourceOrg  `yaml:"orgs,omitempty"`
}

// FileSource serves snapshots from a file. The file is re-read on every
// call so each run sees the latest export.
type FileSource struct {
	path   string
	rootID string
}

// Option configures a FileSource.
type Option func(*FileSource)

// WithRootID fixes the root department instead of taking it from the file.
func WithRootID(id string) Option {
	return func(f *FileSource) { f.rootID = id }
}

// Open checks that path holds a readable snapshot and returns a source over
// it.
func Open(path string, opts ...Option) (*FileSource, error) {
	f := &FileSource{path: path}
	for _, opt := range opts {
		opt(f)
	}
	snap, err := f.load()
	if err != nil {
		return nil, err
	}
	if f.rootID == "" {
		f.rootID = snap.root()
	}
	if f.rootID == "" {
		return nil, fmt.Errorf("source %s: no root department", path)
	}
	return f, nil
}

// RootID returns the root department id.
func (f *FileSource) RootID() string {
	return f.rootID
}

// ReadAllUsers returns every user with names normalized.
func (f *FileSource) ReadAllUsers(ctx context.Context) ([]model.SourceUser, error) {
	snap, err := f.load()
	if err != nil {
		return nil, err
	}
	users := make([]model.SourceUser, 0, len(snap.Users))
	for _, u := range snap.Users {
		if u.ID == "" {
			continue
		}
		u.Name = model.NormalizeName(u.Name)
		depts := make([]model.DeptRef, len(u.Depts))
		for i, d := range u.Depts {
			d.Name = model.NormalizeName(d.Name)
			depts[i] = d
		}
		u.Depts = depts
		users = append(users, u)
	}
	return users, nil
}

// ReadAllDepts returns the department rows, converting org rows when the
// snapshot has no department list.
func (f *FileSource) ReadAllDepts(ctx context.Context) ([]model.SourceDept, error) {
	snap, err := f.load()
	if err != nil {
		return nil, err
	}
	return snap.depts(), nil
}

// ReadAllOrgs returns the flat organisation rows, if any.
func (f *FileSource) ReadAllOrgs(ctx context.Context) ([]model.SourceOrg, error) {
	snap, err := f.load()
	if err != nil {
		return nil, err
	}
	orgs := make([]model.SourceOrg, len(snap.Orgs))
	for i, o := range snap.Orgs {
		o.OrgName = model.NormalizeName(o.OrgName)
		orgs[i] = o
	}
	return orgs, nil
}

func (f *FileSource) load() (*Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read source %s: %w", f.path, err)
	}
	snap, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", f.path, err)
	}
	return snap, nil
}

// Decode parses a snapshot. JSON exports decode through the same path.
func Decode(r io.Reader) (*Snapshot, error) {
	var snap Snapshot
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&snap); err != nil {
		if errors.Is(err, io.EOF) {
			return &snap, nil
		}
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	for _, d := range snap.Depts {
		if d.DeptID == "" {
			return nil, fmt.Errorf("parse snapshot: dept %q has no dept_id", d.Name)
		}
	}
	for _, o := range snap.Orgs {
		if o.OrgID == "" {
			return nil, fmt.Errorf("parse snapshot: org %q has no org_id", o.OrgName)
		}
	}
	return &snap, nil
}

func (s *Snapshot) depts() []model.SourceDept {
	var rows []model.SourceDept
	if len(s.Depts) > 0 {
		rows = make([]model.SourceDept, len(s.Depts))
		copy(rows, s.Depts)
	} else {
		rows = make([]model.SourceDept, len(s.Orgs))
		for i, o := range s.Orgs {
			rows[i] = o.Dept()
		}
	}
	for i := range rows {
		rows[i].Name = model.NormalizeName(rows[i].Name)
	}
	return rows
}

// root returns the explicit root id, else the first self-parented or
// parentless department.
func (s *Snapshot) root() string {
	if s.RootID != "" {
		return s.RootID
	}
	for _, d := range s.depts() {
		if d.DeptPID == d.DeptID || d.DeptPID == "" {
			return d.DeptID
		}
	}
	return ""
}
