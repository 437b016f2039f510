package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/openmined/remotesync/internal/config"
	"github.com/openmined/remotesync/internal/remote"
	"github.com/spf13/cobra"
)

// newObscurer is replaced in tests.
var newObscurer = func(cfg *config.Config) remote.Obscurer {
	return remote.NewRclone(cfg)
}

func init() {
	rootCmd.AddCommand(newObscureCmd())
}

func newObscureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "obscure",
		Short: "Obscure a secret read from stdin for use in an rclone config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readConfig(cmd)
			if err != nil {
				return err
			}

			secret, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("read secret: %w", err)
			}
			secret = strings.TrimRight(secret, "\r\n")
			if secret == "" {
				return errors.New("no secret on stdin")
			}

			obscured, err := newObscurer(cfg).Obscure(cmd.Context(), secret)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), obscured)
			return err
		},
	}
}
