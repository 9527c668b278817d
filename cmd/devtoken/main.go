// Command devtoken mints access tokens for local testing.  Token issuance
// belongs to the identity service in production; this tool signs with the
// same JWT_SECRET the server verifies with.
//
//	devtoken --id 7 --role advisor --kind user --name "Dr. Wang"
//	devtoken --id 3 --role device --kind admin
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"

	"github.com/iliyamo/lab-reservation/internal/model"
	"github.com/iliyamo/lab-reservation/internal/utils"
)

func main() {
	_ = godotenv.Load()

	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "devtoken",
		Usage: "Mint a signed access token for the lab reservation API",
		Flags: []cli.Flag{
			&cli.Uint64Flag{
				Name:     "id",
				Usage:    "user id",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "display name",
			},
			&cli.StringFlag{
				Name:  "role",
				Usage: "approver role: advisor, device, supervisor or finance",
			},
			&cli.StringFlag{
				Name:  "kind",
				Usage: "actor kind: admin or user",
				Value: "user",
			},
			&cli.StringFlag{
				Name:  "category",
				Usage: "requester category: student, teacher or external",
			},
			&cli.IntFlag{
				Name:  "ttl",
				Usage: "lifetime in minutes",
				Value: 60,
			},
			&cli.StringFlag{
				Name:     "secret",
				Usage:    "signing secret",
				Required: true,
				Sources:  cli.EnvVars("JWT_SECRET"),
			},
		},
		Action: mint,
	}
}

func mint(_ context.Context, cmd *cli.Command) error {
	id := cmd.Uint64("id")
	if id == 0 {
		return fmt.Errorf("id must be positive")
	}
	secret := cmd.String("secret")
	if secret == "" {
		return fmt.Errorf("secret must not be empty")
	}
	role := cmd.String("role")
	if role != "" {
		if _, err := model.ParseRole(role); err != nil {
			return err
		}
	}
	kind := cmd.String("kind")
	if _, err := model.ParseActorKind(kind); err != nil {
		return err
	}
	category := cmd.String("category")
	if category != "" {
		if _, err := model.ParseCategory(category); err != nil {
			return err
		}
	}

	tok, err := utils.NewAccessToken(secret, utils.Identity{
		UserID:   id,
		Name:     cmd.String("name"),
		Role:     role,
		Kind:     kind,
		Category: category,
	}, int(cmd.Int("ttl")))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.Root().Writer, tok.Token)
	return err
}
