package config

import (
	"flag"
	"os"
	"time"

	"github.com/grandline/identity/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-t int      session token validity, minutes
//	-l int      verification code length, characters
//	-e int      verification code time-to-live, minutes
//	-m string   SMTP host
//	-p int      SMTP port
//	-u string   SMTP username
//	-w string   SMTP password
//	-f string   SMTP sender address
//
// Args are first filtered to the flags handled here via flagx.FilterArgs so
// this parser does not collide with other components. Duration flags are
// integers in minutes, converted to time.Duration afterwards.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-s", "-t", "-l", "-e", "-m", "-p", "-u", "-w", "-f"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddr, "a", config.EndpointAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	tokenValidity := fs.Int("t", int(config.TokenValidityDuration.Minutes()), "token validity (in minutes)")
	codeTTL := fs.Int("e", int(config.CodeTTL.Minutes()), "verification code TTL (in minutes)")

	fs.IntVar(&config.CodeLength, "l", config.CodeLength, "verification code length")
	fs.StringVar(&config.SMTPHost, "m", config.SMTPHost, "SMTP host")
	fs.IntVar(&config.SMTPPort, "p", config.SMTPPort, "SMTP port")
	fs.StringVar(&config.SMTPUsername, "u", config.SMTPUsername, "SMTP username")
	fs.StringVar(&config.SMTPPassword, "w", config.SMTPPassword, "SMTP password")
	fs.StringVar(&config.SMTPSender, "f", config.SMTPSender, "SMTP sender address")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.TokenValidityDuration = time.Duration(*tokenValidity) * time.Minute
	config.CodeTTL = time.Duration(*codeTTL) * time.Minute
}
