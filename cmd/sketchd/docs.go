package main

// General API documentation for swaggo. Run `make swagger-gen` to regenerate docs.
//
// @title           sketchd API
// @version         1.0
// @description     Live preview server for sketch scripts.
//
// @contact.name   sketchd maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
