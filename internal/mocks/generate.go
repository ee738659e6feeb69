package mocks

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name RunRepository --dir ../domain/award --output domain/award --outpkg awardmock --filename run_repository_mock.go
