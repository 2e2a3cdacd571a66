package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tidaljs/tidal/errext"
	"github.com/tidaljs/tidal/errext/exitcodes"
	"github.com/tidaljs/tidal/js"
)

func getCmdRun(c *rootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "run <script>",
		Short: "Execute a JavaScript module",
		Long:  "Execute the given JavaScript module and drive its event loop until all scheduled work has finished.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := js.New(js.Options{Logger: c.logger})
			if err != nil {
				return errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
			}
			defer rt.Close()

			_, err = rt.RunModule(args[0])
			if err != nil {
				if errext.IsKind(err, errext.ResolutionError) {
					err = errext.WithHint(err, "make sure the script path is correct and readable")
					return errext.WithExitCodeIfNone(err, exitcodes.ScriptNotFound)
				}
				return errext.WithExitCodeIfNone(err, exitcodes.ScriptException)
			}
			return nil
		},
	}
}
