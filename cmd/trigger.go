package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"trigno-driver/controller"
	"trigno-driver/utils"
)

var (
	armStart bool
	armStop  bool
)

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Query or arm the base station's start/stop triggers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := initLogger(cfg)
		defer logger.Close()

		driver, err := controller.NewDriver(cfg, controller.WithLogger(logger))
		if err != nil {
			return err
		}
		if err := driver.Connect(""); err != nil {
			return err
		}
		defer driver.Disconnect()

		if armStart {
			if _, err := driver.SetStartTrigger(); err != nil {
				return err
			}
		}
		if armStop {
			if _, err := driver.SetStopTrigger(); err != nil {
				return err
			}
		}

		reply, err := driver.QueryTriggers()
		if err != nil {
			return err
		}
		utils.L().Info("triggers: %s", reply)
		fmt.Println(reply)
		return nil
	},
}

func init() {
	triggerCmd.Flags().BoolVar(&armStart, "start", false, "arm the start trigger")
	triggerCmd.Flags().BoolVar(&armStop, "stop", false, "arm the stop trigger")
	rootCmd.AddCommand(triggerCmd)
}
