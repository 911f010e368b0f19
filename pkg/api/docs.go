// Package api provides the REST status API for the indexer engine
// @title Indexer Engine API
// @version 1.0
// @description REST API exposing per-chain ingestion status, watermarks and reorg history
// @contact.name API Support
// @contact.url https://github.com/block-forest-studio/indexer-engine
// @license.name Apache 2.0
// @license.url https://www.apache.org/licenses/LICENSE-2.0.html
// @host localhost:8080
// @basePath /api/v1
// @schemes http https
package api
