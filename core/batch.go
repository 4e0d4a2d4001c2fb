package core

import (
	"bytes"
	"net/url"
)

// unit is one outbound request: contiguous records sharing a destination
type unit struct {
	dest      *url.URL
	indexes   []int // positions of the records in the input
	fragments [][]byte
	size      int // framed body size
}

func (u *unit) body(f BatchFormat, single bool) []byte {
	if single {
		return u.fragments[0]
	}
	var buf bytes.Buffer
	buf.Grow(u.size)
	buf.WriteString(f.Prefix)
	for i, frag := range u.fragments {
		if i > 0 {
			buf.WriteString(f.Separator)
		}
		buf.Write(frag)
	}
	buf.WriteString(f.Suffix)
	return buf.Bytes()
}

// grown reports the size of u once frag is appended
func (u *unit) grown(f BatchFormat, frag []byte) int {
	if len(u.fragments) == 0 {
		return len(f.Prefix) + len(frag) + len(f.Suffix)
	}
	return u.size + len(f.Separator) + len(frag)
}

func (u *unit) add(f BatchFormat, index int, frag []byte) {
	u.size = u.grown(f, frag)
	u.indexes = append(u.indexes, index)
	u.fragments = append(u.fragments, frag)
}

// planner converts records and cuts them into units. Conversion failures are recorded in the
// report and the record is left out, the unit being built carries on.
type planner struct {
	cfg        Config
	defaultURL *url.URL
	converter  ValueConverter
}

func (p planner) plan(records []Record, report *Report) []*unit {
	var (
		units   []*unit
		current *unit
	)
	limit := p.cfg.maxRecords()
	for i, rec := range records {
		dest := ResolveDestination(rec, p.defaultURL, p.cfg.OverrideHeader)
		frag, err := p.converter.Convert(rec)
		if err != nil {
			report.Outcomes[i] = Outcome{Status: OutcomeFailed, Err: err, Destination: dest.String()}
			continue
		}
		if current == nil || !p.fits(current, dest, frag, limit) {
			current = &unit{dest: dest}
			units = append(units, current)
		}
		current.add(p.cfg.Format, i, frag)
	}
	return units
}

func (p planner) fits(u *unit, dest *url.URL, frag []byte, limit int) bool {
	if u.dest.String() != dest.String() {
		return false
	}
	if len(u.indexes) >= limit {
		return false
	}
	if p.cfg.MaxBatchBytes > 0 && u.grown(p.cfg.Format, frag) > p.cfg.MaxBatchBytes {
		return false
	}
	return true
}
