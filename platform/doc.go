// Package platform contains core.Messenger implementations. Console writes
// actions to an io.Writer for dry runs; subpackage vk talks to the VK API.
package platform
