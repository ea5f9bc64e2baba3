package main

import (
	log "github.com/sirupsen/logrus"

	"github.com/blackcap/blackcap/common/log/hooks"
	"github.com/blackcap/blackcap/scheduler/client"
)

// CLI binary for the Blackcap scheduler console.
//	Supported commands: (see "-h" for all options)
//		serve
//		register [email] / login [email]
//		submit-job -- [command]
//		create-schedule [job id...]
//		get-schedule [--by schedule|job|cluster] [value]
//		update-schedule [schedule id]
//		delete-schedule [schedule id...]
//		withdraw [job id]
//	Global flags:
//		--config [path to config file]
//		--cookie [session cookie from login]

func main() {
	log.AddHook(hooks.NewContextHook())

	cl, err := client.NewCLIClient()
	if err != nil {
		log.Fatal("Failed to create new blackcap CLI client: ", err)
	}

	if err := cl.Exec(); err != nil {
		log.Fatal("Error running blackcap ", err)
	}
}
