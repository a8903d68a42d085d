package main

import "context"

func (cli *commandLine) sweep() error {
	promoted, err := cli.memberSvc.Sweep(context.Background())
	if err != nil {
		return err
	}
	cli.printf("%d waiting enrollment(s) promoted\n", promoted)
	return nil
}

func (cli *commandLine) copySeason(from, to string) error {
	courses, err := cli.memberSvc.CopySeasonByYear(context.Background(), from, to)
	if err != nil {
		return err
	}
	cli.printf("season %s now has %d course(s)\n", to, len(courses))
	return nil
}
