package main

import (
	"context"
	"flag"
	"log"
	"strconv"
	"time"

	"github.com/apprenticewatch/apprenticewatch/internal/config"
	"github.com/apprenticewatch/apprenticewatch/internal/database"
	"github.com/apprenticewatch/apprenticewatch/internal/revalidate"
	"github.com/apprenticewatch/apprenticewatch/internal/vacancy"
)

func main() {
	var id string
	flag.StringVar(&id, "id", "", "id of the vacancy to update")
	flag.Bool("active", false, "set is_active")
	flag.Bool("national", false, "set is_national_vacancy")
	flag.Bool("disability-confident", false, "set is_disability_confident")
	flag.Parse()
	if id == "" {
		log.Fatal("-id is required")
	}

	update, err := flagUpdate(flag.CommandLine)
	if err != nil {
		log.Fatal(err)
	}
	if update.Empty() {
		log.Fatal("nothing to update, pass at least one of -active, -national, -disability-confident")
	}

	cfg, err := config.LoadToolConfig()
	if err != nil {
		log.Fatalf("unable to load config %v", err)
	}
	conn, err := database.GetDbConn(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("unable to connect to postgres: %v", err)
	}
	defer database.CloseDbConn(conn)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	slug, err := vacancy.NewRepository(conn).SetFlags(ctx, id, update)
	if err != nil {
		log.Fatalf("unable to update vacancy %s: %v", id, err)
	}
	log.Printf("updated vacancy %s (%s)", id, slug)

	rv := revalidate.NewClient(cfg.RevalidateURL, cfg.RevalidateSecret)
	if err := revalidate.All(ctx, rv, "/vacancy/"+slug, "/"); err != nil {
		log.Fatalf("unable to revalidate vacancy pages: %v", err)
	}
	log.Println("revalidated vacancy pages")
}

// flagUpdate only carries the flags given on the command line, so omitted
// ones keep their stored value.
func flagUpdate(fs *flag.FlagSet) (vacancy.FlagUpdate, error) {
	var u vacancy.FlagUpdate
	var err error
	fs.Visit(func(f *flag.Flag) {
		var target **bool
		switch f.Name {
		case "active":
			target = &u.IsActive
		case "national":
			target = &u.IsNationalVacancy
		case "disability-confident":
			target = &u.IsDisabilityConfident
		default:
			return
		}
		b, perr := strconv.ParseBool(f.Value.String())
		if perr != nil {
			err = perr
			return
		}
		*target = &b
	})
	return u, err
}
