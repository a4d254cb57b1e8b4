package patient

import (
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/synaptica-ai/ehrdata/pkg/records"
	"gopkg.in/yaml.v3"
)

const (
	chunkExt       = ".ptlist"
	manifestName   = "manifest.yaml"
	modalityPrefix = "modality_"
)

var (
	ErrNotPreprocessed = errors.New("dataset not preprocessed")
	ErrIncomplete      = errors.New("preprocessed dataset incomplete")
)

// WindowDir is {base}/processed/{unit}_{start}_to_{stop}.
func WindowDir(base string, w records.AgeWindow) string {
	return filepath.Join(base, "processed", w.String())
}

// SplitDir is the directory holding every modality group of a split.
func SplitDir(base, split string, w records.AgeWindow) string {
	return filepath.Join(WindowDir(base, w), split)
}

// Dir is where the chunk files of one split and modality group live.
func Dir(base, split string, modality int, w records.AgeWindow) string {
	return filepath.Join(SplitDir(base, split, w), modalityPrefix+strconv.Itoa(modality))
}

// Modalities lists the modality groups preprocessed for a split, ascending.
func Modalities(base, split string, w records.AgeWindow) ([]int, error) {
	dir := SplitDir(base, split, w)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %q does not exist, run preprocessing to create it first", ErrNotPreprocessed, dir)
		}
		return nil, err
	}
	var mods []int
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), modalityPrefix) {
			continue
		}
		code, err := strconv.Atoi(strings.TrimPrefix(e.Name(), modalityPrefix))
		if err != nil {
			continue
		}
		mods = append(mods, code)
	}
	sort.Ints(mods)
	return mods, nil
}

// Manifest records a completed CreateSave run. Load trusts a directory only
// when its manifest is present and matches what was read.
type Manifest struct {
	Split     string            `yaml:"split"`
	Modality  int               `yaml:"modality"`
	Window    records.AgeWindow `yaml:"window"`
	Total     int               `yaml:"total"`
	Chunks    []string          `yaml:"chunks"`
	CreatedAt time.Time         `yaml:"created_at"`
}

func writeManifest(dir string, m Manifest) error {
	content, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, manifestName), content, 0o644)
}

func readManifest(dir string) (Manifest, error) {
	var m Manifest
	content, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return m, fmt.Errorf("%w: %s has no manifest, rerun preprocessing", ErrIncomplete, dir)
		}
		return m, err
	}
	if err := yaml.Unmarshal(content, &m); err != nil {
		return m, fmt.Errorf("parsing manifest: %w", err)
	}
	return m, nil
}

func chunkName(first, last int) string {
	return fmt.Sprintf("patients_%d_%d%s", first, last, chunkExt)
}

// writeChunk stores patients as a zstd-compressed gob stream. The file is
// written under a temporary name and renamed so readers never see a partial
// chunk.
func writeChunk(path string, pts []*Patient) (err error) {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return err
	}
	if err = gob.NewEncoder(zw).Encode(pts); err != nil {
		zw.Close()
		return fmt.Errorf("encoding chunk: %w", err)
	}
	if err = zw.Close(); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readChunk(path string) ([]*Patient, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var pts []*Patient
	if err := gob.NewDecoder(zr).Decode(&pts); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return pts, nil
}

// DeleteChunks removes chunk files and the manifest left by an earlier run.
func DeleteChunks(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*"+chunkExt))
	if err != nil {
		return err
	}
	files = append(files, filepath.Join(dir, manifestName))
	for _, f := range files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
