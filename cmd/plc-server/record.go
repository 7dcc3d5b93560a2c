package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"plcserver/pkg/domain"
)

func newRecordCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "record <quantity> <value>",
		Short: "Append one reading (level, valveposition or threshold) to the log",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := domain.ParseQuantity(args[0])
			if err != nil {
				return err
			}
			value, err := parseValue(q, args[1])
			if err != nil {
				return err
			}
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			log, err := openLog(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer log.Close()
			row, err := log.Append(cmd.Context(), q, value)
			if err != nil {
				return err
			}
			logger.Debug("reading recorded", "table", q.Table(), "id", row.ID)
			enc := json.NewEncoder(cmd.OutOrStdout())
			return enc.Encode(row)
		},
	}
}

// parseValue converts a command line value to the Go type stored for q.
func parseValue(q domain.Quantity, s string) (any, error) {
	switch q {
	case domain.QuantityLevel:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("level %q: %w", s, err)
		}
		return f, nil
	case domain.QuantityValvePosition:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("valve position %q: %w", s, err)
		}
		return b, nil
	case domain.QuantityThreshold:
		i, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("threshold %q: %w", s, err)
		}
		return int32(i), nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownQuantity, string(q))
	}
}
