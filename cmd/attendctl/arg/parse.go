package arg

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"qrattendance/internal/qrpayload"
)

var parseCmd = &cobra.Command{
	Use:   "parse <payload>",
	Short: "Parse and validate a raw QR payload",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := qrpayload.Parse(strings.Join(args, " "))
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	},
}

func init() {
	rootCmd.AddCommand(parseCmd)
}
