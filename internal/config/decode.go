package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

// DecodeConfig holds configuration for the offline decode command.
type DecodeConfig struct {
	Config
	In     string
	Out    string
	Errors string
}

// LoadDecode loads the pipeline config and the decode command's file paths.
func LoadDecode(cfgFile string, flags *pflag.FlagSet) (DecodeConfig, error) {
	cfg, err := Load(cfgFile, flags)
	if err != nil {
		return DecodeConfig{}, err
	}

	out := DecodeConfig{
		Config: cfg,
		Out:    "./data/events.jsonl",
		Errors: "./data/decode_errors.jsonl",
	}
	if flags != nil {
		if v, err := flags.GetString("in"); err == nil && v != "" {
			out.In = v
		}
		if v, err := flags.GetString("out"); err == nil && v != "" {
			out.Out = v
		}
		if v, err := flags.GetString("errors"); err == nil && v != "" {
			out.Errors = v
		}
	}
	if out.In == "" {
		return DecodeConfig{}, fmt.Errorf("%w: input path is required", ErrConfig)
	}

	return out, nil
}

// ValidateContracts checks only the contract list, which is all the decode command needs.
func (c Config) ValidateContracts() error {
	if len(c.Contracts) == 0 {
		return fmt.Errorf("%w: at least one contract is required", ErrConfig)
	}
	for i, contract := range c.Contracts {
		if err := checkContract(fmt.Sprintf("contracts[%d]", i), contract); err != nil {
			return err
		}
	}
	return nil
}
