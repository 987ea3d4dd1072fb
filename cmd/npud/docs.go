package main

// General API documentation for swaggo. Run `swag init` to regenerate docs.
//
// @title           npud API
// @version         1.0
// @description     HTTP API for accelerator task scheduling and resource allocation.
//
// @contact.name   npud maintainers
//
// @BasePath  /
//
// @schemes http
