package input

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"capacityeval/internal/billing"
	"capacityeval/internal/evaluator"
	"capacityeval/internal/timeseries"
)

// File is the on-disk layout of an offline evaluation input. JSON files
// are accepted as well since JSON is valid YAML.
type File struct {
	Resources []Resource `yaml:"resources"`
}

// Resource is one bundle in a File
type Resource struct {
	ResourceID         string                      `yaml:"resource_id,omitempty"`
	BaseTable          string                      `yaml:"base_table"`
	IndexName          string                      `yaml:"index_name,omitempty"`
	Region             string                      `yaml:"region,omitempty"`
	TableClass         string                      `yaml:"table_class,omitempty"`
	CurrentMode        string                      `yaml:"current_mode,omitempty"`
	AutoscalingEnabled bool                        `yaml:"autoscaling_enabled,omitempty"`
	Current            map[string]CurrentScaling   `yaml:"current,omitempty"`
	Window             Window                      `yaml:"window"`
	Step               string                      `yaml:"step,omitempty"`
	RequestsPerUnit    float64                     `yaml:"requests_per_unit,omitempty"`
	Consumption        map[string]DimensionSamples `yaml:"consumption"`
	Provisioned        map[string]DimensionSamples `yaml:"provisioned,omitempty"`
}

// CurrentScaling mirrors billing.ScalingSettings
type CurrentScaling struct {
	MinCapacity       float64 `yaml:"min_capacity"`
	MaxCapacity       float64 `yaml:"max_capacity"`
	TargetUtilization float64 `yaml:"target_utilization"`
}

// Window holds RFC 3339 bounds
type Window struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// DimensionSamples is either an explicit sample list or a dense series of
// values starting at Start and spaced by Interval
type DimensionSamples struct {
	Samples  []Sample  `yaml:"samples,omitempty"`
	Start    string    `yaml:"start,omitempty"`
	Interval string    `yaml:"interval,omitempty"`
	Values   []float64 `yaml:"values,omitempty,flow"`
}

// Sample is a single timestamped reading
type Sample struct {
	Timestamp string  `yaml:"timestamp"`
	Units     float64 `yaml:"units"`
}

// Load reads bundles from a YAML or JSON file
func Load(path string) ([]evaluator.Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading input file: %w", err)
	}
	bundles, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return bundles, nil
}

// Parse decodes a File and converts each resource into a bundle
func Parse(r io.Reader) ([]evaluator.Bundle, error) {
	var file File
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("input is empty")
		}
		return nil, fmt.Errorf("error decoding input: %w", err)
	}

	bundles := make([]evaluator.Bundle, 0, len(file.Resources))
	for i, res := range file.Resources {
		bundle, err := res.toBundle()
		if err != nil {
			return nil, fmt.Errorf("resources[%d]: %w", i, err)
		}
		bundles = append(bundles, bundle)
	}
	return bundles, nil
}

func (r Resource) toBundle() (evaluator.Bundle, error) {
	if r.BaseTable == "" {
		return evaluator.Bundle{}, fmt.Errorf("base_table is required")
	}

	start, err := parseTime(r.Window.Start)
	if err != nil {
		return evaluator.Bundle{}, fmt.Errorf("window.start: %w", err)
	}
	end, err := parseTime(r.Window.End)
	if err != nil {
		return evaluator.Bundle{}, fmt.Errorf("window.end: %w", err)
	}

	bundle := evaluator.Bundle{
		Descriptor: billing.ResourceDescriptor{
			ResourceID:         r.ResourceID,
			BaseTable:          r.BaseTable,
			IndexName:          r.IndexName,
			Region:             r.Region,
			TableClass:         r.TableClass,
			CurrentMode:        billing.ParseMode(r.CurrentMode),
			AutoscalingEnabled: r.AutoscalingEnabled,
		},
		Window:          timeseries.Window{Start: start, End: end},
		RequestsPerUnit: r.RequestsPerUnit,
	}

	if r.Step != "" {
		if bundle.Step, err = time.ParseDuration(r.Step); err != nil {
			return evaluator.Bundle{}, fmt.Errorf("step: %w", err)
		}
	}

	if len(r.Current) > 0 {
		bundle.Descriptor.Current = make(map[billing.Dimension]billing.ScalingSettings, len(r.Current))
		for name, c := range r.Current {
			dim, err := billing.ParseDimension(name)
			if err != nil {
				return evaluator.Bundle{}, fmt.Errorf("current: %w", err)
			}
			bundle.Descriptor.Current[dim] = billing.ScalingSettings(c)
		}
	}

	if bundle.Consumption, err = convertDimensions(r.Consumption); err != nil {
		return evaluator.Bundle{}, fmt.Errorf("consumption: %w", err)
	}
	if bundle.Provisioned, err = convertDimensions(r.Provisioned); err != nil {
		return evaluator.Bundle{}, fmt.Errorf("provisioned: %w", err)
	}
	return bundle, nil
}

func convertDimensions(in map[string]DimensionSamples) (map[billing.Dimension][]timeseries.Sample, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[billing.Dimension][]timeseries.Sample, len(in))
	for name, data := range in {
		dim, err := billing.ParseDimension(name)
		if err != nil {
			return nil, err
		}
		samples, err := data.samples()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out[dim] = samples
	}
	return out, nil
}

func (d DimensionSamples) samples() ([]timeseries.Sample, error) {
	if len(d.Samples) > 0 && len(d.Values) > 0 {
		return nil, fmt.Errorf("samples and values are mutually exclusive")
	}

	out := make([]timeseries.Sample, 0, len(d.Samples)+len(d.Values))
	for i, s := range d.Samples {
		ts, err := parseTime(s.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("samples[%d]: %w", i, err)
		}
		out = append(out, timeseries.Sample{Timestamp: ts, Units: s.Units})
	}

	if len(d.Values) > 0 {
		start, err := parseTime(d.Start)
		if err != nil {
			return nil, fmt.Errorf("start: %w", err)
		}
		interval := time.Minute
		if d.Interval != "" {
			if interval, err = time.ParseDuration(d.Interval); err != nil {
				return nil, fmt.Errorf("interval: %w", err)
			}
		}
		if interval <= 0 {
			return nil, fmt.Errorf("interval must be positive")
		}
		for i, v := range d.Values {
			out = append(out, timeseries.Sample{Timestamp: start.Add(time.Duration(i) * interval), Units: v})
		}
	}
	return out, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("timestamp is required")
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

// Write encodes bundles in the File layout so they can be replayed offline
func Write(w io.Writer, bundles []evaluator.Bundle) error {
	file := File{Resources: make([]Resource, 0, len(bundles))}
	for _, b := range bundles {
		file.Resources = append(file.Resources, fromBundle(b))
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(file); err != nil {
		return fmt.Errorf("error encoding input: %w", err)
	}
	return encoder.Close()
}

// Save writes bundles to path
func Save(path string, bundles []evaluator.Bundle) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating input file: %w", err)
	}
	if err := Write(f, bundles); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func fromBundle(b evaluator.Bundle) Resource {
	r := Resource{
		ResourceID:         b.Descriptor.ResourceID,
		BaseTable:          b.Descriptor.BaseTable,
		IndexName:          b.Descriptor.IndexName,
		Region:             b.Descriptor.Region,
		TableClass:         b.Descriptor.TableClass,
		CurrentMode:        string(b.Descriptor.CurrentMode),
		AutoscalingEnabled: b.Descriptor.AutoscalingEnabled,
		Window: Window{
			Start: b.Window.Start.UTC().Format(time.RFC3339),
			End:   b.Window.End.UTC().Format(time.RFC3339),
		},
		RequestsPerUnit: b.RequestsPerUnit,
		Consumption:     toDimensionSamples(b.Consumption),
		Provisioned:     toDimensionSamples(b.Provisioned),
	}
	if b.Step > 0 {
		r.Step = b.Step.String()
	}
	if len(b.Descriptor.Current) > 0 {
		r.Current = make(map[string]CurrentScaling, len(b.Descriptor.Current))
		for dim, c := range b.Descriptor.Current {
			r.Current[dimensionKey(dim)] = CurrentScaling(c)
		}
	}
	return r
}

func toDimensionSamples(in map[billing.Dimension][]timeseries.Sample) map[string]DimensionSamples {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]DimensionSamples, len(in))
	for dim, samples := range in {
		if interval, ok := regularInterval(samples); ok {
			data := DimensionSamples{
				Start:    samples[0].Timestamp.UTC().Format(time.RFC3339Nano),
				Interval: interval.String(),
				Values:   make([]float64, len(samples)),
			}
			for i, s := range samples {
				data.Values[i] = s.Units
			}
			out[dimensionKey(dim)] = data
			continue
		}

		data := DimensionSamples{Samples: make([]Sample, len(samples))}
		for i, s := range samples {
			data.Samples[i] = Sample{Timestamp: s.Timestamp.UTC().Format(time.RFC3339Nano), Units: s.Units}
		}
		out[dimensionKey(dim)] = data
	}
	return out
}

// regularInterval reports whether samples are evenly spaced so they can be
// written in the compact values form
func regularInterval(samples []timeseries.Sample) (time.Duration, bool) {
	if len(samples) < 3 {
		return 0, false
	}
	interval := samples[1].Timestamp.Sub(samples[0].Timestamp)
	if interval <= 0 {
		return 0, false
	}
	for i := 2; i < len(samples); i++ {
		if samples[i].Timestamp.Sub(samples[i-1].Timestamp) != interval {
			return 0, false
		}
	}
	return interval, true
}

func dimensionKey(d billing.Dimension) string {
	if d == billing.Write {
		return "write"
	}
	return "read"
}
