package main

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/postersafari/postr-engine/config"
	"github.com/postersafari/postr-engine/pipeline"
	"github.com/postersafari/postr-engine/stages"
)

func newStagesCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stages",
		Short: "List the available stages and their parameters",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			app, err := newApp(flags)
			if err != nil {
				return err
			}
			infos, specs, err := describeStages(app.Cfg)
			if err != nil {
				return err
			}
			return printStages(infos, specs)
		},
	}
}

// describeStages creates every registered stage once on a scratch
// scheduler, so each declares the parameters it reads.
func describeStages(cfg *AppConfig) ([]pipeline.StageInfo, []config.ParamSpec, error) {
	params := config.NewParams(cfg.Engine.Params)
	sc := pipeline.NewScheduler(pipeline.WithParams(params))
	defer func() { _ = sc.Shutdown(context.Background()) }()

	reg := pipeline.NewRegistry()
	if err := stages.Register(reg, cfg.Engine.Plugins, nil); err != nil {
		return nil, nil, err
	}
	for _, name := range reg.Names() {
		if _, err := reg.New(sc, name); err != nil {
			return nil, nil, fmt.Errorf("creating stage %s: %w", name, err)
		}
	}
	return reg.Describe(), params.Specs(), nil
}

func printStages(infos []pipeline.StageInfo, specs []config.ParamSpec) error {
	byStage := make(map[string][]config.ParamSpec)
	for _, s := range specs {
		byStage[s.Stage] = append(byStage[s.Stage], s)
	}

	for _, info := range infos {
		pterm.DefaultSection.Println(info.Name)
		pterm.Println(info.Description)
		ps := byStage[info.Name]
		if len(ps) == 0 {
			continue
		}
		data := pterm.TableData{{"Parameter", "Type", "Default", "Value", "Description"}}
		for _, p := range ps {
			data = append(data, []string{p.Name, string(p.Kind), fmt.Sprint(p.Default), fmt.Sprint(p.Value), p.Description})
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
			return err
		}
	}
	return nil
}
