package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/krisarmstrong/bacnet-go/pkg/config"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init [output-file]",
	Short: "Interactive wizard for a new node configuration file",
	Long: `Interactive wizard that asks for a device instance number, datalink
type, and a few basic settings, then writes a ready-to-validate node YAML
file.`,
	Example: `  # Start interactive wizard
  bacnetd init

  # Start wizard with specific output file
  bacnetd init node.yaml

  # Quick workflow
  bacnetd init && bacnetd validate node.yaml`,
	Run: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) {
	reader := bufio.NewReader(os.Stdin)

	color.New(color.Bold, color.FgCyan).Println("\n╔════════════════════════════════════════════════════════════╗")
	color.New(color.Bold, color.FgCyan).Println("║            BACnet Node Configuration Wizard               ║")
	color.New(color.Bold, color.FgCyan).Print("╚════════════════════════════════════════════════════════════╝\n")
	fmt.Println("This wizard builds a node configuration file you can validate")
	fmt.Print("and run with bacnetd.\n\n")

	cfg := config.Default()

	fmt.Println(color.CyanString("1. Device instance number (1-4194302):"))
	cfg.Device.Instance = uint32(mustPromptInt(reader, "Enter instance number (e.g. 260001): ", 1, 0x3FFFFE))

	fmt.Print("2. Device name [" + cfg.Device.Name + "]: ")
	if name, err := readLine(reader); err == nil && name != "" {
		cfg.Device.Name = name
	}

	fmt.Println(color.CyanString("3. Datalink type:"))
	fmt.Println("   a) BACnet/IP")
	fmt.Println("   b) MS/TP")
	datalinkChoice := mustPromptChoice(reader, "Enter your choice (a-b): ", []string{"a", "b"})

	switch datalinkChoice {
	case "a":
		cfg.Datalink.Type = config.DatalinkBIP
		cfg.Datalink.Port = mustPromptInt(reader, "UDP port (e.g. 47808): ", 1, 65535)
	case "b":
		cfg.Datalink.Type = config.DatalinkMSTP
		fmt.Print("Serial interface (e.g. /dev/ttyUSB0): ")
		iface, _ := readLine(reader)
		cfg.Datalink.Interface = iface
		cfg.Datalink.MACAddr = uint8(mustPromptInt(reader, "MS/TP MAC address (0-127): ", 0, 127))
		cfg.Datalink.Baud = mustPromptInt(reader, "Baud rate (e.g. 38400): ", 1200, 115200)
	}

	cfg.Device.IsRouter = mustPromptYesNo(reader, "4. Is this node a router? (y/n): ")
	if cfg.Datalink.Type == config.DatalinkBIP {
		cfg.Device.BBMDEnabled = mustPromptYesNo(reader, "5. Enable BBMD (foreign device registration)? (y/n): ")
	}

	var outputFile string
	if len(args) > 0 {
		outputFile = args[0]
	} else {
		fmt.Print("6. Enter output filename [node.yaml]: ")
		filename, err := readLine(reader)
		if err != nil && !errors.Is(err, io.EOF) {
			handleInputError(err)
		}
		if filename == "" {
			outputFile = "node.yaml"
		} else {
			outputFile = filename
		}
	}

	if _, err := os.Stat(outputFile); err == nil {
		fmt.Println()
		color.Yellow("Warning: File %s already exists!", outputFile)
		if !mustPromptYesNo(reader, "Overwrite? (y/n): ") {
			fmt.Println("Aborted.")
			os.Exit(0)
		}
	}

	if err := config.Save(outputFile, cfg); err != nil {
		color.Red("Error writing file: %v", err)
		os.Exit(1)
	}

	fmt.Println()
	color.Green("✓ Successfully created %s", outputFile)
	fmt.Println()
	color.New(color.Bold).Println("Next Steps:")
	fmt.Println()
	fmt.Println("1. Validate the configuration:")
	fmt.Printf("   %s\n", color.CyanString("bacnetd validate %s", outputFile))
	fmt.Println()
	fmt.Println("2. Run the node:")
	fmt.Printf("   %s\n", color.CyanString("bacnetd daemon %s", outputFile))
	fmt.Println()
}

func promptChoice(reader *bufio.Reader, prompt string, validChoices []string) (string, error) {
	for {
		fmt.Print(prompt)
		input, err := readLine(reader)
		if err != nil {
			return "", err
		}
		input = strings.ToLower(strings.TrimSpace(input))

		for _, choice := range validChoices {
			if input == choice {
				return input, nil
			}
		}

		color.Red("Invalid choice. Please enter one of: %s", strings.Join(validChoices, ", "))
	}
}

func promptYesNo(reader *bufio.Reader, prompt string) (bool, error) {
	for {
		fmt.Print(prompt)
		input, err := readLine(reader)
		if err != nil {
			return false, err
		}
		input = strings.ToLower(strings.TrimSpace(input))

		if input == "y" || input == "yes" {
			return true, nil
		}
		if input == "n" || input == "no" {
			return false, nil
		}

		color.Red("Please enter 'y' or 'n'")
	}
}

func promptInt(reader *bufio.Reader, prompt string, min, max int) (int, error) {
	for {
		fmt.Print(prompt)
		input, err := readLine(reader)
		if err != nil {
			return 0, err
		}
		input = strings.TrimSpace(input)

		value, err := strconv.Atoi(input)
		if err != nil {
			color.Red("Please enter a valid number")
			continue
		}

		if value < min || value > max {
			color.Red("Please enter a number between %d and %d", min, max)
			continue
		}

		return value, nil
	}
}

func readLine(reader *bufio.Reader) (string, error) {
	line, err := reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			line = strings.TrimSpace(line)
			if line == "" {
				return "", io.EOF
			}
			return line, nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func handleInputError(err error) {
	if errors.Is(err, io.EOF) {
		fmt.Println()
		color.Yellow("Input cancelled.")
		os.Exit(0)
	}
	color.Red("Error reading input: %v", err)
	os.Exit(1)
}

func mustPromptChoice(reader *bufio.Reader, prompt string, validChoices []string) string {
	choice, err := promptChoice(reader, prompt, validChoices)
	if err != nil {
		handleInputError(err)
	}
	return choice
}

func mustPromptYesNo(reader *bufio.Reader, prompt string) bool {
	value, err := promptYesNo(reader, prompt)
	if err != nil {
		handleInputError(err)
	}
	return value
}

func mustPromptInt(reader *bufio.Reader, prompt string, min, max int) int {
	value, err := promptInt(reader, prompt, min, max)
	if err != nil {
		handleInputError(err)
	}
	return value
}
