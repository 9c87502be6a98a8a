// Copyright 2025 The Witness Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/in-toto/pushguard/config"
)

var directory string

func init() {
	flag.StringVar(&directory, "dir", "schemas", "Directory to store the generated schema")
	flag.Parse()
}

func main() {
	if err := os.MkdirAll(directory, 0755); err != nil {
		log.Fatal(err)
	}

	schemaJson, err := config.Schema().MarshalJSON()
	if err != nil {
		log.Fatal(err)
	}

	var indented bytes.Buffer
	if err := json.Indent(&indented, schemaJson, "", "  "); err != nil {
		fmt.Println("Error marshalling JSON schema:", err)
		os.Exit(1)
	}

	out := filepath.Join(directory, "pushguard.json")
	log.Printf("Writing config schema to %s", out)
	if err := os.WriteFile(out, indented.Bytes(), 0644); err != nil {
		log.Fatal("Error writing to file:", err)
	}
}
