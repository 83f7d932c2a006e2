// @title           Knowledge Base API
// @version         1.0
// @description     Multi-tenant knowledge base service: document ingestion, vector retrieval and API key management.
// @termsOfService  http://swagger.io/terms/

// @contact.name    API Support
// @contact.url
// @contact.email   ank.github@gmail.com

// @license.name    Apache 2.0
// @license.url     http://www.apache.org/licenses/LICENSE-2.0.html

// @host      localhost:3000
// @BasePath  /
// @schemes   http https

// @securityDefinitions.apikey AdminKey
// @in header
// @name Admin-Key

// @securityDefinitions.apikey ApiKey
// @in header
// @name API-Key
package utils

//run redis
//docker run -p 6379:6379 -d redis

//run qdrant
//docker run -p 6333:6333 -p 6334:6334 -v vectorDBData:/qdrant/storage qdrant/qdrant

//run minio
//docker run -p 9000:9000 -p 9001:9001 minio/minio server /data --console-address ":9001"

//swagger init
//swag init -g cmd/api/main.go --parseDependency --parseInternal --dir ./ --output ./cmd/api/docs
