package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"

	"cvmhat-network/internal/testutil"
)

func TestLoadConfigDefault(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(".."); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("")
	if AppConfig.HAT.WeightBehaviour != 30 {
		t.Fatalf("unexpected behaviour weight: %d", AppConfig.HAT.WeightBehaviour)
	}
	if AppConfig.DAO.MinVotes != 3 {
		t.Fatalf("unexpected min votes: %d", AppConfig.DAO.MinVotes)
	}
}

func TestLoadConfigOverride(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(".."); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("bootstrap")
	if AppConfig.DAO.MinVotes != 1 {
		t.Fatalf("expected MinVotes 1, got %d", AppConfig.DAO.MinVotes)
	}
	if AppConfig.Resources.MinDeployReputation != 0 {
		t.Fatalf("expected min deploy reputation override to 0")
	}
	// Non-overridden fields remain at their default.
	if AppConfig.HAT.WeightBehaviour != 30 {
		t.Fatalf("unexpected behaviour weight after merge: %d", AppConfig.HAT.WeightBehaviour)
	}
}

func TestLoadConfigSandbox(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	if err := os.Mkdir(sb.Path("config"), 0700); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}

	data := []byte("dao:\n  min_votes: 7\n")
	if err := sb.WriteFile("config/default.yaml", data, 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(sb.Root); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("")

	if AppConfig.DAO.MinVotes != 7 {
		t.Fatalf("expected min votes 7, got %d", AppConfig.DAO.MinVotes)
	}
}
