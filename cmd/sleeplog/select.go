package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/sleeplog/pkg/config"
)

var selectCmd = &cobra.Command{
	Use:   "select <address>",
	Short: "Remember a heart rate monitor as the default device",
	Long: `Store the address (and optionally a display name) of a heart rate monitor in
the config file. 'sleeplog log' connects to it when no address is given.
Pass an empty address ("") to go back to using the first monitor found.`,
	Example: `  sleeplog select F4:5E:AB:12:34:56 --name "Polar H10"`,
	Args:    cobra.ExactArgs(1),
	RunE:    runSelect,
}

var selectName string

func init() {
	selectCmd.Flags().StringVarP(&selectName, "name", "n", "", "Display name of the device")
}

func runSelect(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	address, err := normalizeAddress(args[0])
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	a.cfg.Device = deviceSelection(address, selectName)
	if err := a.cfg.Save(a.configPath); err != nil {
		return err
	}

	if address == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "Cleared the default device; the first heart rate monitor found will be used.")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Selected %s\n", describeDevice(a.cfg.Device.Address, a.cfg.Device.Name))
	return nil
}

func describeDevice(address, name string) string {
	if name == "" {
		return address
	}
	return fmt.Sprintf("%s (%s)", name, address)
}

func deviceSelection(address, name string) config.DeviceConfig {
	if address == "" {
		return config.DeviceConfig{}
	}
	return config.DeviceConfig{Address: address, Name: name}
}
