package cmd

import (
	"github.com/whatdid/whatdid/internal/config"
	"github.com/whatdid/whatdid/internal/confluence"
	"github.com/whatdid/whatdid/internal/gerrit"
	"github.com/whatdid/whatdid/internal/github"
	"github.com/whatdid/whatdid/internal/gitlab"
	"github.com/whatdid/whatdid/internal/jira"
	"github.com/whatdid/whatdid/internal/logging"
	"github.com/whatdid/whatdid/internal/redmine"
	"github.com/whatdid/whatdid/internal/report"
	"github.com/whatdid/whatdid/internal/sentry"
	"github.com/whatdid/whatdid/internal/trello"
	"github.com/whatdid/whatdid/internal/zammad"
)

// builders maps the type key of a config section to its connector
// constructor.
var builders = map[string]func(string, map[string]string) (report.Connector, error){
	"github":     func(o string, s map[string]string) (report.Connector, error) { return github.New(o, s) },
	"gitlab":     func(o string, s map[string]string) (report.Connector, error) { return gitlab.New(o, s) },
	"jira":       func(o string, s map[string]string) (report.Connector, error) { return jira.New(o, s) },
	"confluence": func(o string, s map[string]string) (report.Connector, error) { return confluence.New(o, s) },
	"gerrit":     func(o string, s map[string]string) (report.Connector, error) { return gerrit.New(o, s) },
	"sentry":     func(o string, s map[string]string) (report.Connector, error) { return sentry.New(o, s) },
	"trello":     func(o string, s map[string]string) (report.Connector, error) { return trello.New(o, s) },
	"zammad":     func(o string, s map[string]string) (report.Connector, error) { return zammad.New(o, s) },
	"redmine":    func(o string, s map[string]string) (report.Connector, error) { return redmine.New(o, s) },
}

// buildConnectors constructs one connector per config section, in
// section order.
func buildConnectors(cfg *config.Config) ([]report.Connector, error) {
	var connectors []report.Connector
	for _, name := range cfg.Sections() {
		section := cfg.Section(name)
		kind, ok := section["type"]
		if !ok {
			return nil, report.ConfigError(name,
				"no type set in the [%s] section", name)
		}
		build, ok := builders[kind]
		if !ok {
			return nil, report.ConfigError(name,
				"invalid type %q in the [%s] section", kind, name)
		}
		connector, err := build(name, section)
		if err != nil {
			return nil, err
		}
		logging.Debug("connector configured", "section", name, "type", kind)
		connectors = append(connectors, connector)
	}
	return connectors, nil
}
