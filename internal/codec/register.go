package codec

import "github.com/tkingovr/iochain/internal/filter"

// Register adds the codec filter types "line" and "json" to reg.
func Register(reg *filter.Registry) error {
	if err := reg.Register("line", func(spec filter.Spec) (filter.Filter, error) {
		var cfg struct {
			MaxLine int `yaml:"max_line"`
		}
		if err := spec.Decode(&cfg); err != nil {
			return nil, err
		}
		return NewLineFramer(cfg.MaxLine), nil
	}); err != nil {
		return err
	}
	return reg.Register("json", func(spec filter.Spec) (filter.Filter, error) {
		var cfg struct {
			SkipBlank bool `yaml:"skip_blank"`
		}
		if err := spec.Decode(&cfg); err != nil {
			return nil, err
		}
		return NewJSONCodec(cfg.SkipBlank), nil
	})
}
