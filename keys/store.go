package keys

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Store keeps seeds in one flat directory: <name>.seed for a root key and
// <name>.<role>.seed for a role key derived from it. Each file holds one hex
// line and is created with mode 0600.
type Store struct {
	dir string
}

// Key describes a stored seed.
type Key struct {
	Name   string
	Role   string
	Public string
	Path   string
}

// Entry is a root key and the roles derived from it.
type Entry struct {
	Name  string
	Roles []string
}

// SeedSource selects a signing seed. The first non-empty field wins, in
// field order; Role only applies with Name.
type SeedSource struct {
	Hex  string
	File string
	Name string
	Role string
}

const seedExt = ".seed"

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ErrNoSeed is returned by Resolve when no source is set.
var ErrNoSeed = errors.New("keys: no seed source given")

// DefaultDir is ~/.v2xsec/keys.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".v2xsec", "keys"), nil
}

// Open returns the store rooted at dir, or at DefaultDir when dir is empty.
// Nothing is created until a key is written.
func Open(dir string) (*Store, error) {
	if dir == "" {
		var err error
		if dir, err = DefaultDir(); err != nil {
			return nil, err
		}
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

func validName(what, v string) error {
	if !namePattern.MatchString(v) {
		return fmt.Errorf("keys: invalid %s %q (want 1-64 of A-Z a-z 0-9 _ -)", what, v)
	}
	return nil
}

func (s *Store) path(name, role string) (string, error) {
	if err := validName("name", name); err != nil {
		return "", err
	}
	file := name
	if role != "" {
		if err := validName("role", role); err != nil {
			return "", err
		}
		file += "." + role
	}
	return filepath.Join(s.dir, file+seedExt), nil
}

// NewSeed returns a fresh random seed.
func NewSeed() ([]byte, error) {
	seed := make([]byte, SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	return seed, nil
}

// ParseSeedHex decodes a seed written as hex, with or without a 0x prefix.
func ParseSeedHex(v string) ([]byte, error) {
	seed, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(v), "0x"))
	if err != nil {
		return nil, fmt.Errorf("keys: seed: %w", err)
	}
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("keys: seed is %d bytes, want %d", len(seed), SeedSize)
	}
	return seed, nil
}

func readSeed(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSeedHex(string(b))
}

// writeSeed writes through a temporary file so a reader never sees a partial
// seed. Without overwrite an existing file is an error.
func writeSeed(path string, seed []byte, overwrite bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".seed-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.WriteString(hex.EncodeToString(seed) + "\n"); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if overwrite {
		return os.Rename(tmp.Name(), path)
	}
	if err := os.Link(tmp.Name(), path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("keys: %s exists", path)
		}
		return err
	}
	return nil
}

func (s *Store) put(name, role string, seed []byte, overwrite bool) (Key, error) {
	path, err := s.path(name, role)
	if err != nil {
		return Key{}, err
	}
	pub, err := PublicKeyFromSeed(seed)
	if err != nil {
		return Key{}, err
	}
	if err := writeSeed(path, seed, overwrite); err != nil {
		return Key{}, err
	}
	return Key{Name: name, Role: role, Public: pub, Path: path}, nil
}

// Create stores seed as the root key name.
func (s *Store) Create(name string, seed []byte, overwrite bool) (Key, error) {
	return s.put(name, "", seed, overwrite)
}

// Derive stores the role key derived from root key name.
func (s *Store) Derive(name, role string, overwrite bool) (Key, error) {
	if role == "" {
		return Key{}, errors.New("keys: role required")
	}
	root, err := s.Seed(name, "")
	if err != nil {
		return Key{}, err
	}
	seed, err := DeriveRoleSeed(root, role)
	if err != nil {
		return Key{}, err
	}
	return s.put(name, role, seed, overwrite)
}

// Seed loads the root key name, or its role key when role is set.
func (s *Store) Seed(name, role string) ([]byte, error) {
	path, err := s.path(name, role)
	if err != nil {
		return nil, err
	}
	return readSeed(path)
}

// Public returns the "p256:" public key string of a stored key.
func (s *Store) Public(name, role string) (string, error) {
	seed, err := s.Seed(name, role)
	if err != nil {
		return "", err
	}
	return PublicKeyFromSeed(seed)
}

// Resolve loads the seed src points at.
func (s *Store) Resolve(src SeedSource) ([]byte, error) {
	switch {
	case src.Hex != "":
		return ParseSeedHex(src.Hex)
	case src.File != "":
		return readSeed(src.File)
	case src.Name != "":
		return s.Seed(src.Name, src.Role)
	}
	return nil, ErrNoSeed
}

// List returns every root key with its roles, sorted. Files that do not
// follow the naming scheme are ignored. A missing directory is empty.
func (s *Store) List() ([]Entry, error) {
	files, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	roles := map[string][]string{}
	for _, f := range files {
		base, ok := strings.CutSuffix(f.Name(), seedExt)
		if !ok || f.IsDir() {
			continue
		}
		name, role, hasRole := strings.Cut(base, ".")
		if validName("name", name) != nil || (hasRole && validName("role", role) != nil) {
			continue
		}
		if _, seen := roles[name]; !seen {
			roles[name] = nil
		}
		if role != "" {
			roles[name] = append(roles[name], role)
		}
	}
	out := make([]Entry, 0, len(roles))
	for name, rs := range roles {
		sort.Strings(rs)
		out = append(out, Entry{Name: name, Roles: rs})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
