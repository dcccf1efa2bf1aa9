// Package config provides configuration parsing for weft projects.
//
// The configuration is stored in weft.json (or weft.yaml) at the project
// root. This package handles loading, saving and validating it, and reads
// the data files the CLI renders templates with.
//
// # Configuration File Structure
//
//	{
//	  "name": "dashboard",
//	  "templates": {
//	    "dir": "templates",
//	    "ext": ".xml",
//	    "entry": "app"
//	  },
//	  "data": "data.yaml",
//	  "scheduler": {
//	    "frameInterval": "16ms"
//	  },
//	  "devtools": {
//	    "addr": "localhost:7070"
//	  },
//	  "log": {
//	    "level": "info",
//	    "format": "text"
//	  },
//	  "metrics": {
//	    "namespace": "weft"
//	  }
//	}
//
// # Usage
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Println("Entry:", cfg.Templates.Entry)
package config
