// Command devtoken mints bearer tokens shaped like the ones the Auth service
// issues, for exercising the gateway locally.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		opts    mintOptions
		keyFile string
	)
	cmd := &cobra.Command{
		Use:   "devtoken",
		Short: "Mint a development bearer token for the storefront gateway.",
		Long: "Mint a development bearer token for the storefront gateway. The token is signed " +
			"with JWT_SIGNING_KEY (HS256) unless --key-file points to a PEM private key.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if keyFile != "" {
				b, err := os.ReadFile(keyFile)
				if err != nil {
					return err
				}
				opts.PrivateKeyPEM = string(b)
				opts.Secret = ""
			} else if opts.Secret == "" {
				opts.Secret = os.Getenv("JWT_SIGNING_KEY")
			}
			tok, err := mint(opts, time.Now())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Subject, "sub", "", "user id carried in the sub claim (required)")
	f.StringSliceVar(&opts.Roles, "role", nil, "role claim value, repeatable (e.g. Admin, Customer)")
	f.StringVar(&opts.Email, "email", "", "email claim")
	f.StringVar(&opts.Issuer, "iss", os.Getenv("JWT_ISSUER"), "issuer claim")
	f.StringSliceVar(&opts.Audience, "aud", nonEmpty(os.Getenv("JWT_AUDIENCE")), "audience claim, repeatable")
	f.DurationVar(&opts.TTL, "ttl", time.Hour, "token lifetime")
	f.StringVar(&opts.Kid, "kid", os.Getenv("JWT_SIGNING_KEY_ID"), "key id header")
	f.BoolVar(&opts.URIRoleClaim, "uri-role-claim", false, "emit roles under the ASP.NET role claim URI")
	f.StringVar(&opts.Secret, "secret", "", "HMAC signing secret (default $JWT_SIGNING_KEY)")
	f.StringVar(&keyFile, "key-file", "", "PEM private key (RSA, EC or Ed25519) to sign with")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}
