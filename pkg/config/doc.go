/*
Package config loads Foreman's configuration from the setup root.

Two sources: the main file (port, data directory, privilege-drop user,
host fleet) and a directory of per-agent-kind files, one per analysis
agent installed on the platform. Kind files that fail to parse are logged
and skipped so one bad file cannot keep the scheduler down. The main file,
host entries included, is parsed as a whole: a host entry that fails to
parse makes Load return an error. Host entries that parse but have an empty
address or a non-positive max are logged and skipped when the scheduler
registers its fleet.
*/
package config
