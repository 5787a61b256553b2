package training

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"
)

// ProgressBar provides tqdm-style training progress visualization
type ProgressBar struct {
	out         io.Writer
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	showRate    bool
	showETA     bool
	metrics     map[string]float64
}

// NewProgressBar creates a new progress bar writing to stdout
func NewProgressBar(description string, total int) *ProgressBar {
	return NewProgressBarTo(os.Stdout, description, total)
}

// NewProgressBarTo creates a new progress bar writing to out
func NewProgressBarTo(out io.Writer, description string, total int) *ProgressBar {
	return &ProgressBar{
		out:         out,
		description: description,
		total:       total,
		current:     0,
		startTime:   time.Now(),
		width:       40, // Character width of progress bar
		showRate:    true,
		showETA:     true,
		metrics:     make(map[string]float64),
	}
}

// Update advances the progress bar
func (pb *ProgressBar) Update(step int, metrics map[string]float64) {
	pb.current = step
	if metrics != nil {
		pb.metrics = metrics
	}
	pb.render()
}

// UpdateMetrics updates metrics without advancing progress
func (pb *ProgressBar) UpdateMetrics(metrics map[string]float64) {
	for k, v := range metrics {
		pb.metrics[k] = v
	}
	pb.render()
}

// Finish completes the progress bar
func (pb *ProgressBar) Finish() {
	pb.current = pb.total
	pb.render()
	fmt.Fprintln(pb.out) // New line after completion
}

// render draws the progress bar
func (pb *ProgressBar) render() {
	percentage := 0.0
	if pb.total > 0 {
		percentage = float64(pb.current) / float64(pb.total)
	}
	if percentage > 1.0 {
		percentage = 1.0
	}

	filled := int(percentage * float64(pb.width))
	if filled > pb.width {
		filled = pb.width
	}

	bar := strings.Repeat("█", filled) + strings.Repeat(" ", pb.width-filled)

	// Calculate timing information
	elapsed := time.Since(pb.startTime)
	var eta time.Duration
	var rate float64

	if pb.current > 0 {
		rate = float64(pb.current) / elapsed.Seconds()
		if percentage > 0 {
			totalTime := time.Duration(float64(elapsed) / percentage)
			eta = totalTime - elapsed
		}
	}

	line := fmt.Sprintf("\r%s: %3.0f%%|%s| %d/%d",
		pb.description,
		percentage*100,
		bar,
		pb.current,
		pb.total,
	)

	if pb.showETA && eta > 0 {
		line += fmt.Sprintf(" [%s<%s",
			formatDuration(elapsed),
			formatDuration(eta),
		)
	} else {
		line += fmt.Sprintf(" [%s<00:00",
			formatDuration(elapsed),
		)
	}

	if pb.showRate && rate > 0 {
		line += fmt.Sprintf(", %.2fbatch/s", rate)
	}

	keys := make([]string, 0, len(pb.metrics))
	for key := range pb.metrics {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		line += fmt.Sprintf(", %s=%.3f", key, pb.metrics[key])
	}

	line += "]"

	// Carriage return overwrites previous line
	fmt.Fprint(pb.out, line)
}

// formatDuration formats duration as MM:SS
func formatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// ModelArchitecturePrinter prints a PyTorch-style module tree
type ModelArchitecturePrinter struct {
	modelName string
}

// NewModelArchitecturePrinter creates a new model architecture printer
func NewModelArchitecturePrinter(modelName string) *ModelArchitecturePrinter {
	return &ModelArchitecturePrinter{
		modelName: modelName,
	}
}

// PrintArchitecture writes the module tree and parameter count of m
func (p *ModelArchitecturePrinter) PrintArchitecture(out io.Writer, m Module) {
	fmt.Fprintf(out, "%s(\n", p.modelName)
	_ = Walk(m, func(path string, m Module) error {
		if path == "" {
			return nil
		}
		indent := strings.Repeat("  ", strings.Count(path, ".")+1)
		fmt.Fprintf(out, "%s(%s): %s\n", indent, path[strings.LastIndex(path, ".")+1:], p.formatModule(m))
		return nil
	})
	fmt.Fprintf(out, ")\n")

	total := 0
	for _, param := range m.Parameters() {
		total += param.NumElems
	}
	fmt.Fprintf(out, "Total parameters: %s\n", formatParameterCount(total))
	fmt.Fprintf(out, "Params size (MB): %.3f\n\n", float64(total*4)/1024/1024) // 4 bytes per float32
}

func (p *ModelArchitecturePrinter) formatModule(m Module) string {
	switch v := m.(type) {
	case *Linear:
		return fmt.Sprintf("Linear(in_features=%d, out_features=%d, bias=%t)", v.weight.Shape[0], v.weight.Shape[1], v.bias != nil)
	case *LIFNode:
		return fmt.Sprintf("LIFNode(tau=%.1f, v_threshold=%.1f)", v.tau, v.vThreshold)
	case *MembraneNode:
		return fmt.Sprintf("MembraneNode(tau=%.1f)", v.tau)
	case *Flatten:
		return fmt.Sprintf("Flatten(keep=%d)", v.keep)
	case *Sequential:
		return "Sequential"
	default:
		return strings.TrimPrefix(fmt.Sprintf("%T", m), "*")
	}
}

// formatParameterCount formats parameter count with commas
func formatParameterCount(count int) string {
	str := fmt.Sprintf("%d", count)
	n := len(str)
	if n <= 3 {
		return str
	}

	var b strings.Builder
	for i, c := range str {
		if i > 0 && (n-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	return b.String()
}
