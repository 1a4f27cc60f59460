// Package report implements the pure, read-only summary utilities over
// a directory of journal entries: a tabular dump of every task's status
// fields, and a histogram of each executor's status values.
package report

import (
	"sort"

	"github.com/ternarybob/taskrunner/internal/journal"
)

// Row is one task's flattened status entry, keyed by the journal's
// reserved field names ("name", "params") plus every "<executor>_status"
// / "<executor>_last_run" pair present.
type Row struct {
	Key    string
	Status journal.StatusData
}

// Dump loads every journal entry under dir and returns one Row per
// task, sorted by Key. Corrupt files are skipped from the result but do
// not fail the call; report tooling is meant to work with whatever is
// readable.
func Dump(dir string) ([]Row, error) {
	results, err := journal.Scan(dir)
	if err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		key, _ := r.Status[journal.KeyName].(string)
		rows = append(rows, Row{Key: key, Status: r.Status})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })
	return rows, nil
}

// Histogram counts, per executor name, how many tasks currently hold
// each distinct status value ("SUCCESS", "SKIPPED", or an "ERROR ..."
// string). The outer map key is the executor name; the inner map key is
// the status value.
func Histogram(dir string) (map[string]map[string]int, error) {
	rows, err := Dump(dir)
	if err != nil {
		return nil, err
	}

	hist := make(map[string]map[string]int)
	for _, row := range rows {
		for field, value := range row.Status {
			name, ok := executorNameFromStatusField(field)
			if !ok {
				continue
			}
			statusValue, ok := value.(string)
			if !ok {
				continue
			}
			bucket, ok := hist[name]
			if !ok {
				bucket = make(map[string]int)
				hist[name] = bucket
			}
			bucket[statusValue]++
		}
	}
	return hist, nil
}

const statusSuffix = "_status"

func executorNameFromStatusField(field string) (string, bool) {
	if len(field) <= len(statusSuffix) {
		return "", false
	}
	if field[len(field)-len(statusSuffix):] != statusSuffix {
		return "", false
	}
	return field[:len(field)-len(statusSuffix)], true
}
