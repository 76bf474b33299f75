package api

import (
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"workbench/pkg/logging"
)

// maxParamLen drops long attribute values from the condensed line.
const maxParamLen = 20

var logRegex = regexp.MustCompile(`([a-zA-Z0-9_\-.]+)=(?:"([^"]*)"|([^ ]+))`)

// handleLatestLog returns the last captured log line, condensed. With
// ?lines=n it also returns up to n recent lines, oldest first.
// GET /api/log/latest
func handleLatestLog(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"log": formatLogLine(logging.Capture.Last())}
	if q := r.URL.Query().Get("lines"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid lines parameter")
			return
		}
		resp["lines"] = lo.Map(logging.Capture.Recent(n), func(l string, _ int) string {
			return formatLogLine(l)
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// formatLogLine condenses a slog text line to "HH:MM:SS msg (k=v, ...)" with
// sorted short attributes.
func formatLogLine(raw string) string {
	matches := logRegex.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return raw
	}

	var msg, ts string
	var params []string
	for _, m := range matches {
		key, val := m[1], m[2]
		if val == "" {
			val = m[3]
		}
		val = strings.TrimSpace(val)

		switch key {
		case "time":
			if t, err := time.Parse(time.RFC3339, val); err == nil {
				ts = t.Format("15:04:05")
			}
		case "level":
		case "msg":
			msg = val
		default:
			if len(val) <= maxParamLen {
				params = append(params, key+"="+val)
			}
		}
	}
	if msg == "" {
		return raw
	}

	sort.Strings(params)
	out := msg
	if ts != "" {
		out = ts + " " + msg
	}
	if len(params) > 0 {
		return fmt.Sprintf("%s (%s)", out, strings.Join(params, ", "))
	}
	return out
}
