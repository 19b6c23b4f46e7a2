// Package notify fans confirmed state changes out to people.
//
// A Dispatcher holds a list of channels, each with a Binding that says which
// events it wants and how to render them. Channels are independent: a failing
// mail relay never prevents the chat or SMS message from going out.
package notify
