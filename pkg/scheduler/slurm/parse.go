package slurm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/3leaps/hpbatch/pkg/scheduler"
)

// Output formats requested from the Slurm tools. The decoders below depend
// on the field order.
const (
	squeueFormat = "%i|%j|%T|%M|%C"
	sacctFormat  = "JobID,JobName,State,Elapsed,MaxRSS,AllocCPUS"

	squeueFields = 5
	sacctFields  = 6

	// maxLineBytes bounds one output row. Longer rows are reported as
	// malformed and decoding continues with the next row.
	maxLineBytes = 1024 * 1024
)

var errLineTooLong = fmt.Errorf("row exceeds %d bytes", maxLineBytes)

// parseSubmitOutput decodes `sbatch --parsable` output: "<id>" or
// "<id>;<cluster>", possibly preceded by warning lines.
func parseSubmitOutput(out []byte) (string, error) {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		return "", &scheduler.ParseError{Source: "sbatch", Line: 1, Raw: string(out), Err: errors.New("empty output")}
	}
	id, _, _ := strings.Cut(last, ";")
	if _, _, ok := jobKey(id); !ok {
		return "", &scheduler.ParseError{Source: "sbatch", Line: len(lines), Raw: last, Err: errors.New("job id is not numeric")}
	}
	return id, nil
}

// parseSqueue decodes squeue output in squeueFormat.
func parseSqueue(out []byte) *scheduler.Listing {
	listing := &scheduler.Listing{Records: []scheduler.JobRecord{}}

	forEachLine(out, "squeue", listing, func(n int, line string) {
		fields, err := splitFields(line, squeueFields)
		if err != nil {
			listing.Malformed = append(listing.Malformed, &scheduler.ParseError{Source: "squeue", Line: n, Raw: line, Err: err})
			return
		}
		rec, err := decodeRecord(fields[0], fields[1], fields[2], fields[3], fields[4])
		if err != nil {
			listing.Malformed = append(listing.Malformed, &scheduler.ParseError{Source: "squeue", Line: n, Raw: line, Err: err})
			return
		}
		listing.Records = append(listing.Records, rec)
	})

	sortNewestFirst(listing.Records)
	return listing
}

// parseSacct decodes `sacct --parsable2` output in sacctFormat.
//
// sacct reports one row per allocation followed by its steps (123.batch,
// 123.extern, 123.0). Steps are not jobs: their MaxRSS is folded into the
// parent, keeping the largest, and the rows are dropped.
func parseSacct(out []byte) *scheduler.Listing {
	listing := &scheduler.Listing{Records: []scheduler.JobRecord{}}
	index := make(map[string]int)

	forEachLine(out, "sacct", listing, func(n int, line string) {
		fields, err := splitFields(line, sacctFields)
		if err != nil {
			listing.Malformed = append(listing.Malformed, &scheduler.ParseError{Source: "sacct", Line: n, Raw: line, Err: err})
			return
		}
		id, maxRSS := fields[0], strings.TrimSpace(fields[4])

		if parent, _, isStep := strings.Cut(id, "."); isStep {
			i, ok := index[parent]
			if !ok {
				// Step of an allocation outside the window.
				return
			}
			listing.Records[i].MaxMemory = largerMemory(listing.Records[i].MaxMemory, maxRSS)
			return
		}

		rec, err := decodeRecord(id, fields[1], fields[2], fields[3], fields[5])
		if err != nil {
			listing.Malformed = append(listing.Malformed, &scheduler.ParseError{Source: "sacct", Line: n, Raw: line, Err: err})
			return
		}
		rec.MaxMemory = largerMemory("", maxRSS)

		if i, dup := index[rec.ID]; dup {
			// Requeued jobs appear once per attempt; the last row is current.
			rec.MaxMemory = largerMemory(listing.Records[i].MaxMemory, rec.MaxMemory)
			listing.Records[i] = rec
			return
		}
		index[rec.ID] = len(listing.Records)
		listing.Records = append(listing.Records, rec)
	})

	sortNewestFirst(listing.Records)
	return listing
}

func decodeRecord(id, name, state, elapsed, cpus string) (scheduler.JobRecord, error) {
	id = strings.TrimSpace(id)
	if _, _, ok := jobKey(id); !ok {
		return scheduler.JobRecord{}, fmt.Errorf("invalid job id %q", id)
	}
	d, err := parseElapsed(elapsed)
	if err != nil {
		return scheduler.JobRecord{}, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(cpus))
	if err != nil || n < 0 {
		return scheduler.JobRecord{}, fmt.Errorf("invalid cpu count %q", cpus)
	}
	raw := strings.TrimSpace(state)
	return scheduler.JobRecord{
		ID:            id,
		Name:          name,
		State:         scheduler.ParseState(raw),
		Elapsed:       d,
		AllocatedCPUs: n,
		RawState:      raw,
	}, nil
}

// splitFields splits a '|' separated row into want fields. Job names may
// themselves contain '|', so any surplus is given back to the name column.
func splitFields(line string, want int) ([]string, error) {
	parts := strings.Split(line, "|")
	if len(parts) < want {
		return nil, fmt.Errorf("expected %d fields, got %d", want, len(parts))
	}
	if len(parts) == want {
		return parts, nil
	}
	extra := len(parts) - want
	out := make([]string, 0, want)
	out = append(out, parts[0], strings.Join(parts[1:2+extra], "|"))
	out = append(out, parts[2+extra:]...)
	return out, nil
}

func forEachLine(out []byte, source string, listing *scheduler.Listing, fn func(n int, line string)) {
	r := bufio.NewReader(bytes.NewReader(out))
	for n := 1; ; n++ {
		line, err := r.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		switch {
		case strings.TrimSpace(line) == "":
		case len(line) > maxLineBytes:
			listing.Malformed = append(listing.Malformed, &scheduler.ParseError{
				Source: source, Line: n, Raw: line[:128] + "...", Err: errLineTooLong,
			})
		default:
			fn(n, line)
		}
		if err != nil {
			return
		}
	}
}

// parseElapsed decodes Slurm durations: [D-][HH:]MM:SS, as printed by
// squeue %M and sacct Elapsed.
func parseElapsed(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty elapsed time")
	}

	var days int
	if d, rest, ok := strings.Cut(s, "-"); ok {
		v, err := strconv.Atoi(d)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid elapsed time %q", s)
		}
		days = v
		s = rest
	}

	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid elapsed time %q", s)
	}
	vals := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid elapsed time %q", s)
		}
		vals[i] = v
	}

	var h, m, sec int
	if len(vals) == 3 {
		h, m, sec = vals[0], vals[1], vals[2]
	} else {
		m, sec = vals[0], vals[1]
	}
	if m > 59 || sec > 59 {
		return 0, fmt.Errorf("invalid elapsed time %q", s)
	}

	return time.Duration(days)*24*time.Hour +
		time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(sec)*time.Second, nil
}

// memoryBytes decodes a Slurm memory figure such as "512K", "3.5G" or
// "1024" (bytes). Slurm suffixes are binary multiples.
func memoryBytes(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	mult := 1.0
	switch s[len(s)-1] {
	case 'K', 'k':
		mult = 1 << 10
	case 'M', 'm':
		mult = 1 << 20
	case 'G', 'g':
		mult = 1 << 30
	case 'T', 't':
		mult = 1 << 40
	case 'P', 'p':
		mult = 1 << 50
	}
	if mult != 1 {
		s = s[:len(s)-1]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v * mult, true
}

// largerMemory returns whichever figure is larger. Undecodable figures lose
// to decodable ones; "" means absent.
func largerMemory(a, b string) string {
	av, aok := memoryBytes(a)
	bv, bok := memoryBytes(b)
	switch {
	case !bok:
		if aok {
			return a
		}
		return ""
	case !aok:
		return b
	case bv > av:
		return b
	default:
		return a
	}
}

// jobKey extracts the numeric ordering key from a job id: "123" -> (123, -1),
// "123_4" -> (123, 4), "123_[5-9]" -> (123, -1).
func jobKey(id string) (base, task int64, ok bool) {
	head, tail, isArray := strings.Cut(id, "_")
	if head == "" {
		return 0, 0, false
	}
	for _, r := range head {
		if r < '0' || r > '9' {
			return 0, 0, false
		}
	}
	base, err := strconv.ParseInt(head, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	task = -1
	if isArray {
		if v, err := strconv.ParseInt(tail, 10, 64); err == nil {
			task = v
		}
	}
	return base, task, true
}

// sortNewestFirst orders records by job id descending, which is submission
// order on a single cluster.
func sortNewestFirst(records []scheduler.JobRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		bi, ti, _ := jobKey(records[i].ID)
		bj, tj, _ := jobKey(records[j].ID)
		if bi != bj {
			return bi > bj
		}
		return ti > tj
	})
}
