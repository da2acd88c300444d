/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/goplasma/InputParameters"
	"github.com/notargets/goplasma/derivs"
	"github.com/notargets/goplasma/mesh"
	"github.com/notargets/goplasma/model_problems/Transport3D"
	"github.com/notargets/goplasma/solver"
	"github.com/notargets/goplasma/utils"
)

type RunParameters struct {
	InputFile string
	DataDir   string
	Verbose   bool
	Profile   bool
}

// RunCmd represents the run command
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the transport model on a decomposed structured mesh",
	Long: `
Reads a YAML run description, splits the mesh into NXPE x NYPE subdomains each driven by its
own goroutine and integrates the model to NOut*TimeStep.

goplasma run -I input.yaml -v`,
	Run: func(cmd *cobra.Command, args []string) {
		var (
			err error
		)
		rp := &RunParameters{}
		if rp.InputFile, err = cmd.Flags().GetString("inputFile"); err != nil {
			panic(err)
		}
		rp.Verbose, _ = cmd.Flags().GetBool("verbose")
		rp.Profile, _ = cmd.Flags().GetBool("profile")
		rp.DataDir = viper.GetString("dataDir")
		if len(rp.InputFile) == 0 {
			fmt.Printf("error: must supply an input parameters file (-I, --inputFile)\n")
			exampleFile := `
########################################
Title: "Density transport"
NOut: 10
TimeStep: 0.1
Mesh:
  NX: 16
  NY: 16
  NZ: 8
  NXPE: 2
  NYPE: 2
  Dx: 0.0625
  Dy: 0.0625
  Dz: 0.785398
Model:
  chi: 0.001
ddz:
  fourth: C2
solver:
  type: rk45
  ATOL: 1.0e-10
  RTOL: 1.0e-6
########################################
`
			fmt.Printf("Example File:%s\n", exampleFile)
			os.Exit(1)
		}
		if err = Run(rp); err != nil {
			fmt.Printf("error: %s\n", err.Error())
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(RunCmd)
	RunCmd.Flags().StringP("inputFile", "I", "", "YAML file for the run description, mesh, model and solver options")
	RunCmd.Flags().BoolP("verbose", "v", false, "print the output table and debug logging")
	RunCmd.Flags().Bool("profile", false, "write a CPU profile into the data directory")
	RunCmd.Flags().String("dataDir", "~/.goplasma/data", "directory for the final state and profiles")
	if err := viper.BindPFlag("dataDir", RunCmd.Flags().Lookup("dataDir")); err != nil {
		panic(err)
	}
}

// restartFile writes the state of one subdomain as a gonum binary vector
type restartFile struct {
	dir  string
	rank int
	log  *logrus.Entry
}

func (rf *restartFile) WriteFinal(simTime float64, iteration int, state []float64) (err error) {
	var (
		file *os.File
		path = filepath.Join(rf.dir, fmt.Sprintf("final.%d.bin", rf.rank))
	)
	if len(state) == 0 {
		return
	}
	if err = os.MkdirAll(rf.dir, 0755); err != nil {
		return
	}
	if file, err = os.Create(path); err != nil {
		return
	}
	defer file.Close()
	buf := make([]float64, len(state))
	copy(buf, state)
	if _, err = mat.NewVecDense(len(buf), buf).MarshalBinaryTo(file); err != nil {
		return
	}
	rf.log.WithFields(logrus.Fields{
		"file":      path,
		"sim_time":  simTime,
		"iteration": iteration,
	}).Info("wrote final state")
	return
}

func Run(rp *RunParameters) (err error) {
	var (
		ip      *InputParameters.InputParameters
		opts    *InputParameters.Options
		methods derivs.Methods
		params  Transport3D.Parameters
		dec     *mesh.Decomposition
	)
	if rp.DataDir, err = homedir.Expand(rp.DataDir); err != nil {
		return
	}
	if rp.Profile {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(rp.DataDir)).Stop()
	}
	if ip, opts, err = InputParameters.ReadFile(rp.InputFile); err != nil {
		return
	}
	if methods, err = derivs.NewMethods(ip.DDX, ip.DDY, ip.DDZ); err != nil {
		return
	}
	if params, err = Transport3D.NewParameters(ip.Model); err != nil {
		return
	}
	if dec, err = mesh.NewDecomposition(ip.Mesh); err != nil {
		return
	}
	logger := logrus.New()
	if rp.Verbose {
		logger.SetLevel(logrus.DebugLevel)
		ip.Print()
	}
	log := logger.WithField("run", uuid.New().String())
	log.WithFields(logrus.Fields{
		"title":      ip.Title,
		"subdomains": dec.NProc(),
		"nout":       ip.NOut,
		"tstep":      ip.TimeStep,
	}).Info("starting run")
	var (
		wg   sync.WaitGroup
		errs = make([]error, dec.NProc())
	)
	for rank := 0; rank < dec.NProc(); rank++ {
		wg.Add(1)
		go func(m *mesh.StructuredMesh) {
			defer wg.Done()
			errs[m.Rank()] = runSubdomain(rp, m, dec.Cfg, ip, opts, methods, params, log)
		}(dec.Mesh(rank))
	}
	wg.Wait()
	for rank, e := range errs {
		if e != nil {
			return fmt.Errorf("subdomain %d: %w", rank, e)
		}
	}
	return
}

func runSubdomain(rp *RunParameters, m *mesh.StructuredMesh, cfg mesh.Config, ip *InputParameters.InputParameters,
	opts *InputParameters.Options, methods derivs.Methods, params Transport3D.Parameters,
	log *logrus.Entry) (err error) {
	var (
		tr        *Transport3D.Transport3D
		rank      = m.Rank()
		printRows = rp.Verbose && rank == 0
	)
	if tr, err = Transport3D.NewTransport3D(m, methods, params, cfg.NX, cfg.NY); err != nil {
		return
	}
	reg := solver.NewRegistry(m)
	if err = tr.Register(reg); err != nil {
		return
	}
	sv := solver.NewSolver(reg, opts, log)
	sv.SetRestart(&restartFile{dir: rp.DataDir, rank: rank, log: log.WithField("rank", rank)})
	if err = sv.Initialize(tr.RHS, ip.NOut, ip.TimeStep); err != nil {
		return
	}
	if printRows {
		fmt.Printf("%8s%14s%10s%14s%16s\n", "Output", "Time", "RHS", "Wall (s)", "Mass")
	}
	monitor := func(simTime float64, iteration, nout int) (stop bool) {
		var (
			mass        = tr.Mass()
			bad, anyBad float64
			e           error
		)
		if utils.FirstNaN(tr.N.Data()) >= 0 || math.IsInf(mass, 0) {
			bad = 1
		}
		// every subdomain has to agree on stopping
		if anyBad, e = m.AllReduceMax(bad); e != nil || anyBad > 0 {
			log.WithField("rank", rank).Warn("non finite density, stopping")
			return true
		}
		if printRows {
			fmt.Printf("%8d%14.6f%10d%14.4f%16.8f\n",
				iteration, simTime, sv.RHSCalls(), sv.RHSWallTime().Seconds(), mass)
		}
		return
	}
	steps, ftime, err := sv.Advance(monitor)
	if err != nil {
		return
	}
	fields := logrus.Fields{"rank": rank, "steps": steps, "final_time": ftime, "stopped": sv.Stopped()}
	if mfs, e := sv.Metrics().Registry.Gather(); e == nil {
		for _, mf := range mfs {
			for _, metric := range mf.GetMetric() {
				if c := metric.GetCounter(); c != nil {
					fields[mf.GetName()] = c.GetValue()
				}
			}
		}
	}
	log.WithFields(fields).Info("subdomain finished")
	if rank == 0 {
		log.Debug(utils.GetMemUsage())
	}
	return
}
