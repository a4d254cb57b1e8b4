package records

import (
	"fmt"
	"strconv"
	"time"
)

// CollateCodesOffsets buckets one patient's events of a single record type
// into the age window. Each unit contributes its codes in encounter order, or
// a single NoneToken when empty. The returned offsets hold the start index of
// every unit, so there are exactly w.Span() of them; the last unit runs to
// len(codes).
func CollateCodesOffsets(events []Event, w AgeWindow) ([]string, []int64, error) {
	if err := w.Validate(); err != nil {
		return nil, nil, err
	}
	span := w.Span()

	if len(events) == 0 {
		codes := make([]string, span)
		offsets := make([]int64, span)
		for i := range codes {
			codes[i] = NoneToken
			offsets[i] = int64(i)
		}
		return codes, offsets, nil
	}

	byAge := make(map[int][]string)
	for _, e := range events {
		age := e.ageIn(w.Unit)
		if age < w.Start || age >= w.Stop {
			continue
		}
		byAge[age] = append(byAge[age], e.Code)
	}

	codes := make([]string, 0, span)
	offsets := make([]int64, 1, span)
	for age := w.Start; age < w.Stop; age++ {
		bucket := byAge[age]
		if len(bucket) == 0 {
			bucket = []string{NoneToken}
		}
		codes = append(codes, bucket...)
		if age < w.Stop-1 {
			offsets = append(offsets, offsets[len(offsets)-1]+int64(len(bucket)))
		}
	}

	if len(offsets) != span {
		return nil, nil, fmt.Errorf("offsets length %d does not match window span %d", len(offsets), span)
	}
	return codes, offsets, nil
}

// RecordSequences numericalizes the collated codes of every record type.
func RecordSequences(events [NumRecordTypes][]Event, vocabs [NumRecordTypes]Numericalizer, w AgeWindow) (codes, offsets [NumRecordTypes][]int64, err error) {
	for _, rt := range AllRecordTypes() {
		rawCodes, offs, err := CollateCodesOffsets(events[rt], w)
		if err != nil {
			return codes, offsets, fmt.Errorf("%s: %w", rt, err)
		}
		if vocabs[rt] == nil {
			return codes, offsets, fmt.Errorf("%s: no vocabulary configured", rt)
		}
		nums, err := vocabs[rt].Numericalize(rawCodes)
		if err != nil {
			return codes, offsets, fmt.Errorf("%s: %w", rt, err)
		}
		codes[rt] = nums
		offsets[rt] = offs
	}
	return codes, offsets, nil
}

// EncodeDemographics numericalizes one demographics row and returns the
// normalized current age alongside.
func EncodeDemographics(row DemographicsRow, vocabs [NumDemographicFields]Numericalizer, ageMean, ageStd float64) ([]int64, float32, error) {
	day, month, year := NoneToken, NoneToken, NoneToken
	if row.Birthdate != "" {
		bd, err := ParseBirthdate(row.Birthdate)
		if err != nil {
			return nil, 0, err
		}
		day, month, year = strconv.Itoa(bd.Day()), strconv.Itoa(int(bd.Month())), strconv.Itoa(bd.Year())
	}

	values := [NumDemographicFields]string{
		FieldBirthDay:   day,
		FieldBirthMonth: month,
		FieldBirthYear:  year,
		FieldMarital:    orNone(row.Marital),
		FieldRace:       orNone(row.Race),
		FieldEthnicity:  orNone(row.Ethnicity),
		FieldGender:     orNone(row.Gender),
		FieldBirthplace: orNone(row.Birthplace),
		FieldCity:       orNone(row.City),
		FieldState:      orNone(row.State),
		FieldZip:        orNone(row.Zip),
	}

	demographics := make([]int64, 0, NumDemographicFields)
	for field, value := range values {
		if vocabs[field] == nil {
			return nil, 0, fmt.Errorf("demographic field %d: no vocabulary configured", field)
		}
		nums, err := vocabs[field].Numericalize([]string{value})
		if err != nil {
			return nil, 0, fmt.Errorf("demographic field %d: %w", field, err)
		}
		demographics = append(demographics, nums...)
	}

	if ageStd == 0 {
		return nil, 0, fmt.Errorf("age standard deviation is zero")
	}
	age := float32((row.Age - ageMean) / ageStd)
	return demographics, age, nil
}

var birthdateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05", "01/02/2006"}

// ParseBirthdate accepts the date formats written by the cleaning step.
func ParseBirthdate(value string) (time.Time, error) {
	for _, layout := range birthdateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable birthdate %q", value)
}

func orNone(value string) string {
	if value == "" {
		return NoneToken
	}
	return value
}
