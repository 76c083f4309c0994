// Command synacor hosts the Architecture VM, runs the Synacor challenge
// binary, and supplies the debugger and puzzle solvers.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/jyggen/synacor-challenge/internal/repl"
	"github.com/jyggen/synacor-challenge/internal/solve/teleporter"
	"github.com/jyggen/synacor-challenge/internal/solve/vault"
	"github.com/jyggen/synacor-challenge/internal/vm"
)

func main() {
	app := cli.NewApp()
	app.Name = "synacor"
	app.Usage = "run and debug the Synacor Challenge virtual machine"
	app.Version = "1.0.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "bin",
			Value: "challenge.bin",
			Usage: "path to the challenge binary",
		},
		cli.StringFlag{
			Name:  "solve",
			Usage: "run a solver immediately and exit: teleporter|vault",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("fatal: %v", err))
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	path := c.String("bin")
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	program, err := vm.LoadBinary(f)
	f.Close()
	if err != nil {
		return err
	}

	if solver := c.String("solve"); solver != "" {
		return runSolverOnly(program, solver)
	}

	m := vm.New()
	if err := m.Load(program); err != nil {
		return err
	}

	driver := repl.New(m, program, os.Stdin, os.Stdout)
	defer driver.Close()
	return driver.Run()
}

// runSolverOnly supports `synacor --solve teleporter|vault` for scripted
// use without dropping into the REPL.
func runSolverOnly(program []uint16, solver string) error {
	switch solver {
	case "teleporter":
		m := vm.New()
		if err := m.Load(program); err != nil {
			return err
		}
		k, err := teleporter.Solve(m)
		if err != nil {
			return err
		}
		fmt.Printf("r7 = %d\n", k)
		return nil
	case "vault":
		path, err := vault.FindPath(vault.PublishedGrid)
		if err != nil {
			return err
		}
		for _, d := range path {
			fmt.Println(d)
		}
		return nil
	default:
		return fmt.Errorf("unknown solver %q", solver)
	}
}
