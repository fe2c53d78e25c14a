package port

import (
	"github.com/vertextoedge/media-vault/internal/domain/repository"
)

// DownloadJobRepository is an alias to domain repository interface
type DownloadJobRepository = repository.DownloadJobRepository

// Store is an alias to domain repository interface
type Store = repository.Store
