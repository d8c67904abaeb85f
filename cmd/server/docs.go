// Package main chattime API
//
//	@title			chattime API
//	@version		1.0
//	@description	Chat, presence and group video calling API: REST auth/admin/upload endpoints plus a socket-based chat, signalling and SFU media transport.
//	@termsOfService	http://swagger.io/terms/
//
//	@contact.name	chattime support
//	@contact.url	https://github.com/observer/teatime
//	@contact.email	support@teatime.example.com
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:3000
//	@BasePath	/api
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT token (format: Bearer <token>)
//
//	@externalDocs.description	OpenAPI
//	@externalDocs.url			https://swagger.io/resources/open-api/
package main
