package config

import (
	"fmt"
	"strings"

	"molecules/internal/lines"
	"molecules/internal/logging"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Fields returns the offending field names in order.
func (e ValidationErrors) Fields() []string {
	out := make([]string, 0, len(e))
	for _, err := range e {
		out = append(out, err.Field)
	}
	return out
}

// ValidateConfig validates every section and returns all problems at once.
func ValidateConfig(c *Config) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs ValidationErrors
	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateGrab(&c.Grab)...)
	errs = append(errs, validateHover(&c.Hover)...)
	errs = append(errs, validateInput(&c.Input)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateMetrics(&c.Metrics)...)
	errs = append(errs, validateStorage(&c.Storage)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateThreshold(field string, v float32) ValidationErrors {
	if v < 0 || v >= 1 {
		return ValidationErrors{{
			Field:   field,
			Message: fmt.Sprintf("threshold %g must be in [0, 1)", v),
		}}
	}
	return nil
}

func validateGrab(g *GrabConfig) ValidationErrors {
	var errs ValidationErrors
	if g.MaxDistance <= 0 {
		errs = append(errs, ValidationError{
			Field:   "grab.max_distance",
			Message: "max distance must be positive",
		})
	}
	errs = append(errs, validateThreshold("grab.pinch_threshold", g.PinchThreshold)...)
	errs = append(errs, validateThreshold("grab.grab_threshold", g.GrabThreshold)...)
	return errs
}

func validateHover(h *HoverConfig) ValidationErrors {
	var errs ValidationErrors
	if h.Width <= 0 || h.Height <= 0 {
		errs = append(errs, ValidationError{
			Field:   "hover.size",
			Message: fmt.Sprintf("size %gx%g must be positive", h.Width, h.Height),
		})
	}
	if h.Thickness < 0 {
		errs = append(errs, ValidationError{
			Field:   "hover.thickness",
			Message: "thickness cannot be negative",
		})
	}
	if h.XRange.Min == h.XRange.Max {
		errs = append(errs, ValidationError{Field: "hover.x_range", Message: "range is empty"})
	}
	if h.YRange.Min == h.YRange.Max {
		errs = append(errs, ValidationError{Field: "hover.y_range", Message: "range is empty"})
	}
	errs = append(errs, validateThreshold("hover.pinch_threshold", h.PinchThreshold)...)
	errs = append(errs, validateThreshold("hover.select_threshold", h.SelectThreshold)...)

	if h.Lines.StartThickness < 0 || h.Lines.EndThickness < 0 {
		errs = append(errs, ValidationError{
			Field:   "hover.lines",
			Message: "line thickness cannot be negative",
		})
	}
	for name, c := range map[string]lines.Color{
		"start_color_hover":    h.Lines.StartColorHover,
		"start_color_interact": h.Lines.StartColorInteract,
		"end_color_hover":      h.Lines.EndColorHover,
		"end_color_interact":   h.Lines.EndColorInteract,
	} {
		if !validColor(c) {
			errs = append(errs, ValidationError{
				Field:   "hover.lines." + name,
				Message: "color components must be in [0, 1]",
			})
		}
	}
	return errs
}

func validColor(c lines.Color) bool {
	for _, v := range []float32{c.R, c.G, c.B, c.A} {
		if v < 0 || v > 1 {
			return false
		}
	}
	return true
}

func validateInput(in *InputConfig) ValidationErrors {
	var errs ValidationErrors
	for field, key := range map[string]string{
		"input.pinch_key":  in.PinchKey,
		"input.grab_key":   in.GrabKey,
		"input.select_key": in.SelectKey,
	} {
		if strings.TrimSpace(key) == "" {
			errs = append(errs, ValidationError{Field: field, Message: "key name is required"})
		}
	}
	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors
	if _, err := logging.ParseLevel(l.Level); err != nil {
		errs = append(errs, ValidationError{Field: "logging.level", Message: err.Error()})
	}
	if _, err := logging.ParseFormat(l.Format); err != nil {
		errs = append(errs, ValidationError{Field: "logging.format", Message: err.Error()})
	}
	switch strings.ToLower(l.Output) {
	case "stdout", "stderr", "discard":
	case "file":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: "file path is required for file output",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid output: %s (valid: stdout, stderr, file, discard)", l.Output),
		})
	}
	return errs
}

func validateMetrics(m *MetricsConfig) ValidationErrors {
	if !m.Enabled {
		return nil
	}
	switch m.Format {
	case "prometheus", "json":
		return nil
	default:
		return ValidationErrors{{
			Field:   "metrics.format",
			Message: fmt.Sprintf("invalid format: %s (valid: prometheus, json)", m.Format),
		}}
	}
}

func validateStorage(s *StorageConfig) ValidationErrors {
	var errs ValidationErrors
	if s.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "storage.path",
			Message: "database path is required",
		})
	}
	if s.BusyTimeoutMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "storage.busy_timeout_ms",
			Message: "busy timeout cannot be negative",
		})
	}
	return errs
}
