package vocab

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/synaptica-ai/ehrdata/pkg/records"
	"gopkg.in/yaml.v3"
)

// FileName is the vocabulary file written by the cleaning step.
const FileName = "vocab.yaml"

// Vocab maps string tokens to their position in Itos. When Unknown is set,
// out-of-vocabulary values map to that token instead of failing.
type Vocab struct {
	Itos    []string `yaml:"itos" json:"itos"`
	Unknown string   `yaml:"unknown,omitempty" json:"unknown,omitempty"`

	stoi map[string]int64
}

func New(itos []string, unknown string) *Vocab {
	v := &Vocab{Itos: itos, Unknown: unknown}
	v.index()
	return v
}

func (v *Vocab) index() {
	v.stoi = make(map[string]int64, len(v.Itos))
	for i, s := range v.Itos {
		if _, ok := v.stoi[s]; !ok {
			v.stoi[s] = int64(i)
		}
	}
}

func (v *Vocab) Numericalize(values []string) ([]int64, error) {
	out := make([]int64, len(values))
	for i, value := range values {
		idx, ok := v.stoi[value]
		if !ok {
			if v.Unknown == "" {
				return nil, fmt.Errorf("%w: %q", records.ErrOutOfVocabulary, value)
			}
			idx, ok = v.stoi[v.Unknown]
			if !ok {
				return nil, fmt.Errorf("%w: unknown token %q missing", records.ErrOutOfVocabulary, v.Unknown)
			}
		}
		out[i] = idx
	}
	return out, nil
}

func (v *Vocab) Len() int {
	return len(v.Itos)
}

// File is the on-disk layout of the vocabulary collaborator's output.
type File struct {
	Records      map[string]*Vocab `yaml:"records"`
	Demographics map[string]*Vocab `yaml:"demographics"`
	AgeMean      float64           `yaml:"age_mean"`
	AgeStd       float64           `yaml:"age_std"`
}

var demographicKeys = [records.NumDemographicFields]string{
	records.FieldBirthDay:   "bday",
	records.FieldBirthMonth: "bmonth",
	records.FieldBirthYear:  "byear",
	records.FieldMarital:    "marital",
	records.FieldRace:       "race",
	records.FieldEthnicity:  "ethnicity",
	records.FieldGender:     "gender",
	records.FieldBirthplace: "birthplace",
	records.FieldCity:       "city",
	records.FieldState:      "state",
	records.FieldZip:        "zip",
}

// LoadList reads {dir}/vocab.yaml into a records.VocabList.
func LoadList(dir string) (records.VocabList, error) {
	content, err := os.ReadFile(filepath.Join(filepath.Clean(dir), FileName))
	if err != nil {
		return records.VocabList{}, err
	}
	var f File
	if err := yaml.Unmarshal(content, &f); err != nil {
		return records.VocabList{}, fmt.Errorf("parsing vocabulary: %w", err)
	}
	return f.List()
}

func (f File) List() (records.VocabList, error) {
	var list records.VocabList
	for _, rt := range records.AllRecordTypes() {
		v, ok := f.Records[rt.String()]
		if !ok || v == nil {
			return records.VocabList{}, fmt.Errorf("vocabulary for %s missing", rt)
		}
		v.index()
		list.Records[rt] = v
	}
	for field, key := range demographicKeys {
		v, ok := f.Demographics[key]
		if !ok || v == nil {
			return records.VocabList{}, fmt.Errorf("vocabulary for demographic %s missing", key)
		}
		v.index()
		list.Demographics[field] = v
	}
	if f.AgeStd == 0 {
		return records.VocabList{}, fmt.Errorf("age_std must be non-zero")
	}
	list.AgeMean, list.AgeStd = f.AgeMean, f.AgeStd
	return list, nil
}

// Save writes the vocabulary file, used by tests and the cleaning tooling.
func (f File) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	content, err := yaml.Marshal(f)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, FileName), content, 0o644)
}
