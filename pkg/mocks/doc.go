package mocks

//go:generate mockgen -destination=mock_runner.go -package=mocks github.com/pysqlcipher/amalgam/pkg/process Runner
