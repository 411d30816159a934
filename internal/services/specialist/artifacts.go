package specialist

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"AutoTrader/internal/services/classifier"
	"AutoTrader/pkg/util"
)

var (
	ErrNoArtifacts      = errors.New("no model artifacts")
	ErrArtifactMismatch = errors.New("model artifacts are incomplete or mismatched")
)

const (
	versionLayout = "20060102T150405.000000000Z"
	manifestFile  = "manifest.json"
	modelFile     = "model.json"
	scalerFile    = "scaler.json"
	featuresFile  = "features.json"
)

// Manifest points at the current model, scaler and feature-set triple of
// one specialist. It is replaced atomically after the files it names exist.
type Manifest struct {
	Specialist string            `json:"specialist"`
	Version    string            `json:"version"`
	Kind       string            `json:"kind"`
	CreatedAt  time.Time         `json:"created_at"`
	Files      map[string]string `json:"files"` // name -> sha256
}

// envelope stamps every artifact file with the version it belongs to.
type envelope struct {
	Version string          `json:"version"`
	Kind    string          `json:"kind,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// Artifacts is one loadable set.
type Artifacts struct {
	Manifest Manifest
	Dir      string
	Model    json.RawMessage
	Scaler   classifier.StandardScaler
	Features []string
}

// ArtifactStore keeps versioned artifact sets under <root>/<specialist>/<version>/.
type ArtifactStore struct {
	root   string
	retain int
	now    func() time.Time
	mu     sync.Mutex
}

func NewArtifactStore(root string, retain int) *ArtifactStore {
	if retain < 1 {
		retain = 1
	}
	return &ArtifactStore{root: root, retain: retain, now: time.Now}
}

// Save writes a new version and then swaps the manifest to it. extra holds
// additional binary files (an exported ONNX graph) stored next to the model.
func (s *ArtifactStore) Save(name, kind string, model any, scaler *classifier.StandardScaler, features []string, extra map[string][]byte) (Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	version := s.now().UTC().Format(versionLayout)
	dir := filepath.Join(s.root, name, version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Manifest{}, fmt.Errorf("create artifact dir: %w", err)
	}

	m := Manifest{
		Specialist: name,
		Version:    version,
		Kind:       kind,
		CreatedAt:  s.now().UTC(),
		Files:      make(map[string]string),
	}

	parts := []struct {
		file string
		data any
	}{
		{modelFile, model},
		{scalerFile, scaler},
		{featuresFile, features},
	}
	for _, p := range parts {
		raw, err := json.Marshal(p.data)
		if err != nil {
			return Manifest{}, fmt.Errorf("encode %s: %w", p.file, err)
		}
		b, err := json.MarshalIndent(envelope{Version: version, Kind: kind, Data: raw}, "", "  ")
		if err != nil {
			return Manifest{}, fmt.Errorf("encode %s: %w", p.file, err)
		}
		if err := util.WriteFileAtomic(filepath.Join(dir, p.file), b); err != nil {
			return Manifest{}, err
		}
		m.Files[p.file] = checksum(b)
	}
	for file, b := range extra {
		if err := util.WriteFileAtomic(filepath.Join(dir, file), b); err != nil {
			return Manifest{}, err
		}
		m.Files[file] = checksum(b)
	}

	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return Manifest{}, fmt.Errorf("encode manifest: %w", err)
	}
	if err := util.WriteFileAtomic(filepath.Join(s.root, name, manifestFile), b); err != nil {
		return Manifest{}, err
	}

	s.prune(name, version)
	return m, nil
}

// Load returns the set the manifest points at. Every named file must exist,
// match its checksum and carry the manifest version.
func (s *ArtifactStore) Load(name string) (*Artifacts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(filepath.Join(s.root, name, manifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoArtifacts, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", ErrArtifactMismatch, err)
	}
	if m.Version == "" {
		return nil, fmt.Errorf("%w: manifest has no version", ErrArtifactMismatch)
	}

	dir := filepath.Join(s.root, name, m.Version)
	for _, required := range []string{modelFile, scalerFile, featuresFile} {
		if _, ok := m.Files[required]; !ok {
			return nil, fmt.Errorf("%w: manifest lacks %s", ErrArtifactMismatch, required)
		}
	}
	for file, sum := range m.Files {
		data, err := os.ReadFile(filepath.Join(dir, file))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrArtifactMismatch, file, err)
		}
		if checksum(data) != sum {
			return nil, fmt.Errorf("%w: %s checksum", ErrArtifactMismatch, file)
		}
	}

	a := &Artifacts{Manifest: m, Dir: dir}
	if a.Model, err = readEnvelope(dir, modelFile, m.Version); err != nil {
		return nil, err
	}
	rawScaler, err := readEnvelope(dir, scalerFile, m.Version)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(rawScaler, &a.Scaler); err != nil {
		return nil, fmt.Errorf("%w: scaler: %v", ErrArtifactMismatch, err)
	}
	rawFeatures, err := readEnvelope(dir, featuresFile, m.Version)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(rawFeatures, &a.Features); err != nil {
		return nil, fmt.Errorf("%w: features: %v", ErrArtifactMismatch, err)
	}
	if len(a.Features) == 0 || len(a.Features) != a.Scaler.Width() {
		return nil, fmt.Errorf("%w: %d features for scaler width %d", ErrArtifactMismatch, len(a.Features), a.Scaler.Width())
	}
	return a, nil
}

// Versions lists stored versions, oldest first.
func (s *ArtifactStore) Versions(name string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *ArtifactStore) prune(name, keep string) {
	versions, err := s.Versions(name)
	if err != nil || len(versions) <= s.retain {
		return
	}
	for _, v := range versions[:len(versions)-s.retain] {
		if v == keep {
			continue
		}
		_ = os.RemoveAll(filepath.Join(s.root, name, v))
	}
}

func readEnvelope(dir, file, version string) (json.RawMessage, error) {
	b, err := os.ReadFile(filepath.Join(dir, file))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrArtifactMismatch, file, err)
	}
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrArtifactMismatch, file, err)
	}
	if env.Version != version {
		return nil, fmt.Errorf("%w: %s is version %s, manifest is %s", ErrArtifactMismatch, file, env.Version, version)
	}
	return env.Data, nil
}

func checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
