package session

import "hash/fnv"

// palette holds the product's editor identification colors.
var palette = []string{
	"#e11d48", // Red
	"#10b981", // Green
	"#3b82f6", // Blue
	"#f59e0b", // Yellow
	"#8b5cf6", // Purple
	"#14b8a6", // Teal
	"#ef4444", // Red-500
	"#06b6d4", // Cyan
	"#84cc16", // Lime
	"#f97316", // Orange
}

// colorFor deterministically assigns a palette color to a participant id, so
// a participant keeps their color across reconnects and across peers.
func colorFor(id string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return palette[int(h.Sum32())%len(palette)]
}
