package activity

import "github.com/shirou/gopsutil/v4/process"

// procStatusCodes maps gopsutil's cross-platform status strings to the
// single-letter codes ps(1) uses for STAT.
var procStatusCodes = map[string]string{
	process.Running: "R",
	process.Sleep:   "S",
	process.Stop:    "T",
	process.Idle:    "I",
	process.Zombie:  "Z",
	process.Wait:    "W",
	process.Lock:    "L",
	process.Blocked: "D",
}

// statusCode renders a gopsutil status string as its ps(1)-style code,
// falling back to "?" for anything unrecognized.
func statusCode(status string) string {
	if code, ok := procStatusCodes[status]; ok {
		return code
	}
	return "?"
}
