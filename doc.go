/*
Command jsondb reads and writes JSON documents in a jsondb store.

The store keeps JSON documents as rows of paths and leaf values, in a bstore
(BoltDB) or SQLite database file. Documents can be read at any path, partially
updated, appended to as arrays, and looked up by indexed fields.

# Commands

	jsondb [-config jsondb.conf] [-loglevel level] ...
	jsondb get [-depth n] [-pretty] [-callback name] [-order asc|desc] [-startat key] [-startafter key] [-endat key] [-endbefore key] [-limit n] [-field field -value value] path
	jsondb set path [json]
	jsondb update path [json]
	jsondb push path [json]
	jsondb delete path
	jsondb exists path
	jsondb lookup subtree field value
	jsondb createkey
	jsondb tables create
	jsondb tables drop
	jsondb migrate [-reset] target
	jsondb backup [-verbose] dest-dir
	jsondb verifydata [database-file]
	jsondb config test
	jsondb config describe >jsondb.conf
	jsondb version
	jsondb help [command ...]

The configuration file is read from -config, or $JSONDBCONF, with jsondb.conf
as fallback. See "jsondb config describe" for its format.

# Examples

Store a document and read part of it:

	jsondb set /users '{"u1": {"name": "joe", "age": 25}}'
	jsondb get -depth 1 /users/u1
	{"age":25,"name":"joe"}

Append to a list, the printed key is the array index of the new element:

	echo '"first"' | jsondb push /list
*/
package main
